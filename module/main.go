// Package main is a module with a visual localization SLAM service model.
package main

import (
	"context"
	"strings"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/services/slam"
	"go.viam.com/utils"

	viamvllm "github.com/viam-modules/viam-vllm"
	"github.com/viam-modules/viam-vllm/engine"
	"github.com/viam-modules/viam-vllm/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("vllmModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var versionFields []interface{}
	if Version != "" {
		versionFields = append(versionFields, "version", Version)
	}
	if GitRevision != "" {
		versionFields = append(versionFields, "git_rev", GitRevision)
	}
	if len(versionFields) != 0 {
		logger.Infow(viamvllm.Model.String(), versionFields...)
	} else {
		logger.Info(viamvllm.Model.String() + " built from source; version unknown")
	}

	if len(args) == 2 && strings.HasSuffix(args[1], "-version") {
		return nil
	}
	logger.Debugw("registered engines", "trackers", engine.TrackerNames(), "fusers", engine.FuserNames())

	if len(args) >= 2 && strings.HasSuffix(args[len(args)-1], "-telemetry") {
		exporter, err := telemetry.SetupTelemetry()
		if err != nil {
			return err
		}
		defer exporter.Stop()
	}

	// Instantiate the module
	vllmModule, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	// Add the vllm model to the module
	if err = vllmModule.AddModelFromRegistry(ctx, slam.API, viamvllm.Model); err != nil {
		return err
	}

	// Start the module
	err = vllmModule.Start(ctx)
	defer vllmModule.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
