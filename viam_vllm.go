// Package viamvllm implements visual localization in a lidar map as a SLAM service.
// This is an Experimental package.
package viamvllm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	viamgrpc "go.viam.com/rdk/grpc"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/slam"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	vllmConfig "github.com/viam-modules/viam-vllm/config"
	"github.com/viam-modules/viam-vllm/controller"
	"github.com/viam-modules/viam-vllm/cycleprocess"
	"github.com/viam-modules/viam-vllm/engine"
	"github.com/viam-modules/viam-vllm/enginefacade"
	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/publisher"
	s "github.com/viam-modules/viam-vllm/sensors"
)

var (
	// Model is the model name of the visual localization service.
	Model = resource.NewModel("viam", "slam", "vllm")
	// ErrClosed denotes that the slam service method was called on a closed slam resource.
	ErrClosed = errors.Errorf("resource (%s) is closed", Model.String())
	// ErrNoPublication denotes that no localization cycle has completed yet.
	ErrNoPublication = errors.Errorf("resource (%s) has not localized yet", Model.String())

	sensorValidationMaxTimeout = 30 * time.Second
	sensorValidationInterval   = time.Second
)

const (
	defaultCameraDataFrequencyHz = 5
	defaultRefreshRateHz         = 10
	defaultEngineTimeout         = time.Minute
	chunkSizeBytes               = 1 * 1024 * 1024
)

// SetSensorValidationForTesting shortens how long New waits for the first camera frame.
func SetSensorValidationForTesting(maxTimeout, interval time.Duration) {
	sensorValidationMaxTimeout = maxTimeout
	sensorValidationInterval = interval
}

func init() {
	resource.RegisterService(slam.API, Model, resource.Registration[slam.Service, *vllmConfig.Config]{
		Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			c resource.Config,
			logger logging.Logger,
		) (slam.Service, error) {
			return New(ctx, deps, c, logger, defaultEngineTimeout, nil)
		},
	})
}

// New returns a new visual localization service for the given robot.
func New(
	ctx context.Context,
	deps resource.Dependencies,
	c resource.Config,
	logger logging.Logger,
	engineTimeout time.Duration,
	testTimedCameraOverride s.TimedCamera,
) (slam.Service, error) {
	ctx, span := trace.StartSpan(ctx, "viamvllm::slamService::New")
	defer span.End()

	svcConfig, err := resource.NativeConfig[*vllmConfig.Config](c)
	if err != nil {
		return nil, err
	}

	optionalConfigParams, err := vllmConfig.GetOptionalParameters(
		svcConfig,
		defaultCameraDataFrequencyHz,
		defaultRefreshRateHz,
		logger,
	)
	if err != nil {
		return nil, err
	}

	params, err := vllmConfig.ParseParams(svcConfig.ConfigParams)
	if err != nil {
		return nil, err
	}
	vllmConfig.LogParams(params, logger)

	timedCamera, err := s.NewCamera(
		ctx,
		deps,
		optionalConfigParams.CameraName,
		optionalConfigParams.CameraMimeType,
		optionalConfigParams.CameraDataFrequencyHz,
		logger,
	)
	if err != nil {
		return nil, err
	}
	// Override the camera for testing if the override camera is not nil
	if testTimedCameraOverride != nil {
		timedCamera = testTimedCameraOverride
	}

	worldMap, err := mapgrid.LoadPCD(ctx, svcConfig.MapPCDFile, params.Map, logger)
	if err != nil {
		return nil, err
	}

	// Need to be able to shut down the cycle and consumer workers before the engines
	cancelCycleCtx, cancelCycleFunc := context.WithCancel(context.Background())
	cancelConsumerCtx, cancelConsumerFunc := context.WithCancel(context.Background())
	cancelFacadeCtx, cancelFacadeFunc := context.WithCancel(context.Background())

	vllmSvc := &VLLMService{
		Named:              c.ResourceName().AsNamed(),
		camera:             timedCamera,
		worldMap:           worldMap,
		originalView:       worldMap.View(),
		edits:              mapEdits{enabled: true},
		controller:         controller.NewDensity(params.Accuracy),
		channel:            &publisher.Channel{},
		dataDirectory:      svcConfig.DataDirectory,
		refreshInterval:    time.Second / time.Duration(optionalConfigParams.RefreshRateHz),
		engineTimeout:      engineTimeout,
		cancelCycleFunc:    cancelCycleFunc,
		cancelConsumerFunc: cancelConsumerFunc,
		cancelFacadeFunc:   cancelFacadeFunc,
		logger:             logger,
	}

	defer func() {
		if err != nil {
			logger.Errorw("New() hit error, closing...", "error", err)
			if err := vllmSvc.Close(ctx); err != nil {
				logger.Errorw("error closing out after error", "error", err)
			}
		}
	}()

	if err = s.ValidateGetData(
		cancelCycleCtx,
		timedCamera,
		sensorValidationMaxTimeout,
		sensorValidationInterval,
		logger); err != nil {
		err = errors.Wrap(err, "failed to get data from camera")
		return nil, err
	}

	if err = initEngineFacade(cancelFacadeCtx, vllmSvc, optionalConfigParams, params); err != nil {
		return nil, err
	}

	initWorkers(cancelCycleCtx, cancelConsumerCtx, vllmSvc, params)

	return vllmSvc, nil
}

// initEngineFacade builds the tracker and fuser behind a facade and starts its worker.
func initEngineFacade(
	ctx context.Context,
	vllmSvc *VLLMService,
	optionalConfigParams vllmConfig.OptionalParameters,
	params vllmConfig.Params,
) error {
	facade := enginefacade.New(enginefacade.Config{
		Tracker: optionalConfigParams.Tracker,
		Fuser:   optionalConfigParams.Fuser,
		Options: engine.Options{
			InitialAlignment:       params.InitialAlignment,
			CorrespondenceDistance: params.CorrespondenceDistance,
			NormalSearchRadius:     params.Map.NormalSearchRadius,
			Params:                 params.Engine,
			Logger:                 vllmSvc.logger,
		},
	})
	if err := facade.Initialize(ctx, vllmSvc.engineTimeout, &vllmSvc.facadeWorkers); err != nil {
		vllmSvc.logger.Errorw("engine facade initialize failed", "error", err)
		return err
	}
	vllmSvc.facade = &facade
	return nil
}

// initWorkers starts the cycle driver producing publications and the consumer caching them.
func initWorkers(cycleCtx, consumerCtx context.Context, vllmSvc *VLLMService, params vllmConfig.Params) {
	cycleConfig := cycleprocess.Config{
		Facade:                vllmSvc.facade,
		Camera:                vllmSvc.camera,
		Map:                   vllmSvc.worldMap,
		Controller:            vllmSvc.controller,
		Channel:               vllmSvc.channel,
		Iterations:            params.Iteration,
		FrameSkip:             params.FrameSkip,
		BroadcastEveryNCycles: params.BroadcastEveryNCycles,
		Timeout:               vllmSvc.engineTimeout,
		Logger:                vllmSvc.logger,
	}

	vllmSvc.cycleWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer vllmSvc.cycleWorkers.Done()
		if jobDone := cycleConfig.Start(cycleCtx); jobDone {
			vllmSvc.jobDone.Store(true)
		}
	})

	vllmSvc.consumerWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer vllmSvc.consumerWorkers.Done()
		vllmSvc.consume(consumerCtx)
	})
}

// VLLMService is the structure of the slam service.
type VLLMService struct {
	resource.Named
	resource.AlwaysRebuild
	mu     sync.Mutex
	closed bool

	camera        s.TimedCamera
	worldMap      *mapgrid.Map
	originalView  *mapgrid.View
	originalPCD   atomic.Pointer[[]byte]
	editMu        sync.Mutex
	edits         mapEdits
	controller    *controller.Density
	channel       *publisher.Channel
	dataDirectory string

	facade        enginefacade.Interface
	engineTimeout time.Duration

	refreshInterval time.Duration
	latest          atomic.Pointer[publisher.Publication]
	mapPCD          atomic.Pointer[encodedMap]

	cancelCycleFunc    func()
	cancelConsumerFunc func()
	cancelFacadeFunc   func()
	cycleWorkers       sync.WaitGroup
	consumerWorkers    sync.WaitGroup
	facadeWorkers      sync.WaitGroup

	logger  logging.Logger
	jobDone atomic.Bool
}

// consume pops the publication channel at the refresh rate and caches what it gets.
func (vllmSvc *VLLMService) consume(ctx context.Context) {
	for goutils.SelectContextOrWait(ctx, vllmSvc.refreshInterval) {
		pub, ok := vllmSvc.channel.Pop()
		if !ok {
			continue
		}
		if pub.MapBroadcast {
			if _, err := vllmSvc.editedMapPCD(); err != nil {
				vllmSvc.logger.Warnw("failed to refresh the map point cloud", "error", err)
			}
		}
		vllmSvc.latest.Store(&pub)
	}
}

// encodedMap is a PCD encoding of the map together with the view it was encoded from.
type encodedMap struct {
	view *mapgrid.View
	pcd  []byte
}

// editedMapPCD returns the live map encoded as a PCD, encoding it again whenever the
// cached bytes were built from a view that is no longer current.
func (vllmSvc *VLLMService) editedMapPCD() ([]byte, error) {
	view := vllmSvc.worldMap.View()
	if cached := vllmSvc.mapPCD.Load(); cached != nil && cached.view == view {
		return cached.pcd, nil
	}
	b, err := encodePCD(view.TargetCloud())
	if err != nil {
		return nil, err
	}
	vllmSvc.mapPCD.Store(&encodedMap{view: view, pcd: b})
	return b, nil
}

func (vllmSvc *VLLMService) isClosed() bool {
	vllmSvc.mu.Lock()
	defer vllmSvc.mu.Unlock()
	return vllmSvc.closed
}

// Position returns the latest fused camera pose in the map frame.
func (vllmSvc *VLLMService) Position(ctx context.Context) (spatialmath.Pose, error) {
	_, span := trace.StartSpan(ctx, "viamvllm::VLLMService::Position")
	defer span.End()
	if vllmSvc.isClosed() {
		vllmSvc.logger.Warn("Position called after closed")
		return nil, ErrClosed
	}

	pub := vllmSvc.latest.Load()
	if pub == nil {
		return nil, ErrNoPublication
	}
	return pub.FusedCamera.ToPose(), nil
}

// PointCloudMap returns a callback function which will return the next chunk of the map
// the camera is localized in, encoded as a binary PCD. Without returnEditedMap the map
// is returned as it was loaded, before any postprocessing edit.
func (vllmSvc *VLLMService) PointCloudMap(ctx context.Context, returnEditedMap bool) (func() ([]byte, error), error) {
	_, span := trace.StartSpan(ctx, "viamvllm::VLLMService::PointCloudMap")
	defer span.End()
	if vllmSvc.isClosed() {
		vllmSvc.logger.Warn("PointCloudMap called after closed")
		return nil, ErrClosed
	}
	if !returnEditedMap {
		b, err := vllmSvc.originalMapPCD()
		if err != nil {
			return nil, err
		}
		return toChunkedFunc(b), nil
	}

	b, err := vllmSvc.editedMapPCD()
	if err != nil {
		return nil, err
	}
	return toChunkedFunc(b), nil
}

// InternalState returns a callback function which will return the next chunk of the
// visible map cells encoded as JSON.
func (vllmSvc *VLLMService) InternalState(ctx context.Context) (func() ([]byte, error), error) {
	_, span := trace.StartSpan(ctx, "viamvllm::VLLMService::InternalState")
	defer span.End()
	if vllmSvc.isClosed() {
		vllmSvc.logger.Warn("InternalState called after closed")
		return nil, ErrClosed
	}

	is, err := internalState(vllmSvc.worldMap.View())
	if err != nil {
		return nil, err
	}
	return toChunkedFunc(is), nil
}

// Properties returns the mapping mode of the service, which only ever localizes, and the
// camera it reads from.
func (vllmSvc *VLLMService) Properties(ctx context.Context) (slam.Properties, error) {
	_, span := trace.StartSpan(ctx, "viamvllm::VLLMService::Properties")
	defer span.End()
	if vllmSvc.isClosed() {
		vllmSvc.logger.Warn("Properties called after closed")
		return slam.Properties{}, ErrClosed
	}

	return slam.Properties{
		CloudSlam:             false,
		MappingMode:           slam.MappingModeLocalizationOnly,
		InternalStateFileType: ".json",
		SensorInfo: []slam.SensorInfo{
			{Name: vllmSvc.camera.Name(), Type: slam.SensorTypeCamera},
		},
	}, nil
}

// DoCommand receives arbitrary commands.
func (vllmSvc *VLLMService) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	ctx, span := trace.StartSpan(ctx, "viamvllm::VLLMService::DoCommand")
	defer span.End()
	if vllmSvc.isClosed() {
		vllmSvc.logger.Warn("DoCommand called after closed")
		return nil, ErrClosed
	}

	resp := map[string]interface{}{}
	if _, ok := req["job_done"]; ok {
		resp["job_done"] = vllmSvc.jobDone.Load()
	}
	if _, ok := req["accuracy"]; ok {
		resp["accuracy"] = vllmSvc.controller.Accuracy()
	}
	if _, ok := req["visible_cells"]; ok {
		resp["visible_cells"] = visibleCellsSummary(vllmSvc.worldMap.View())
	}
	if _, ok := req["publication"]; ok {
		pub := vllmSvc.latest.Load()
		if pub == nil {
			return nil, ErrNoPublication
		}
		resp["publication"] = publicationSummary(*pub)
	}
	if err := vllmSvc.editMap(ctx, req, resp); err != nil {
		return nil, err
	}
	if _, ok := req["save_publication"]; ok {
		files, err := vllmSvc.savePublication(ctx)
		if err != nil {
			return nil, err
		}
		resp["save_publication"] = files
	}

	if len(resp) == 0 {
		return nil, viamgrpc.UnimplementedError
	}
	return resp, nil
}

// Close out of all slam related processes.
func (vllmSvc *VLLMService) Close(ctx context.Context) error {
	vllmSvc.mu.Lock()
	defer vllmSvc.mu.Unlock()

	vllmSvc.logger.Info("Closing vllm module")
	if vllmSvc.closed {
		vllmSvc.logger.Warn("Close() called multiple times")
		return nil
	}

	// stop the producer first so nothing is in flight when the engines close
	vllmSvc.cancelCycleFunc()
	vllmSvc.cycleWorkers.Wait()

	vllmSvc.cancelConsumerFunc()
	vllmSvc.consumerWorkers.Wait()

	if vllmSvc.facade != nil {
		if err := vllmSvc.facade.Terminate(ctx, vllmSvc.engineTimeout); err != nil {
			vllmSvc.logger.Errorw("close hit error", "error", err)
		}
	}

	// stop the engine facade worker
	vllmSvc.cancelFacadeFunc()
	vllmSvc.facadeWorkers.Wait()
	vllmSvc.closed = true

	vllmSvc.logger.Info("Closing complete")
	return nil
}
