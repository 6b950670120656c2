// Package cycleprocess contains the producer loop that turns camera frames into published
// localization snapshots.
package cycleprocess

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/components/camera/replaypcd"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/viam-modules/viam-vllm/controller"
	"github.com/viam-modules/viam-vllm/engine"
	"github.com/viam-modules/viam-vllm/enginefacade"
	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/publisher"
	s "github.com/viam-modules/viam-vllm/sensors"
	"github.com/viam-modules/viam-vllm/snapshot"
)

// Config holds everything one localization cycle needs. A Config is driven by a single
// goroutine; only the Controller and Channel are shared with readers.
type Config struct {
	Facade     enginefacade.Interface
	Camera     s.TimedCamera
	Map        *mapgrid.Map
	Controller *controller.Density
	Channel    *publisher.Channel

	Iterations            int
	FrameSkip             int
	BroadcastEveryNCycles int

	Timeout time.Duration
	Logger  logging.Logger

	history  snapshot.Trajectories
	sequence uint64
	frames   uint64
}

// Start reads frames from the camera and runs a cycle for each of them until the context
// is done or a replay camera runs out of data. It returns true in the latter case.
func (config *Config) Start(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
			jobDone, err := config.addImage(ctx)
			if jobDone {
				config.Logger.Info("reached the end of the replay dataset")
				return true
			}
			if err != nil {
				config.Logger.Warn(err)
			}
		}
	}
}

// addImage reads the next frame, runs a cycle on it unless it is skipped and sleeps the
// remainder of the frame interval.
func (config *Config) addImage(ctx context.Context) (bool, error) {
	startTime := time.Now().UTC()
	img, err := config.Camera.TimedImage(ctx)
	if err != nil {
		if errors.Is(err, replaypcd.ErrEndOfDataset) || strings.Contains(err.Error(), replaypcd.ErrEndOfDataset.Error()) {
			return true, err
		}
		return false, err
	}

	config.frames++
	if config.skip() {
		config.Logger.Debugf("skipping frame from %v", img.ReadingTime)
	} else if _, err := config.RunCycle(ctx, img); err != nil {
		config.Logger.Warnw("skipping frame due to error from the engines", "error", err)
	}

	timeToSleep := config.remainingFrameTime(startTime)
	if timeToSleep > 0 {
		config.Logger.Debugf("camera sleep for %v", timeToSleep)
		goutils.SelectContextOrWait(ctx, timeToSleep)
	}
	return false, nil
}

// skip reports whether the frame just counted is dropped. With FrameSkip n one frame in
// every n+1 is processed, starting with the first.
func (config *Config) skip() bool {
	if config.FrameSkip <= 0 {
		return false
	}
	return (config.frames-1)%uint64(config.FrameSkip+1) != 0
}

func (config *Config) remainingFrameTime(startTime time.Time) time.Duration {
	hz := config.Camera.DataFrequencyHz()
	if hz <= 0 {
		return 0
	}
	return max(0, time.Second/time.Duration(hz)-time.Since(startTime))
}

// RunCycle tracks the frame, feeds the landmark count back into the density controller,
// fuses the landmarks with the current map, and pushes the resulting Publication.
func (config *Config) RunCycle(ctx context.Context, img s.TimedImageResponse) (publisher.Publication, error) {
	startTime := time.Now()

	accuracy := config.Controller.Accuracy()
	tracked, err := config.Facade.Track(ctx, config.Timeout, engine.Image{
		Data:     img.Image,
		MimeType: img.MimeType,
		Time:     img.ReadingTime,
		Replay:   img.IsReplaySensor,
	}, engine.Criteria{Iterations: config.Iterations, Accuracy: accuracy})
	if err != nil {
		return publisher.Publication{}, errors.Wrap(err, "track error")
	}
	if err := tracked.Landmarks.Validate(); err != nil {
		return publisher.Publication{}, err
	}
	// the new threshold applies from the next frame on
	config.Controller.Observe(tracked.Landmarks.Len())

	view := config.Map.View()
	fused, err := config.Facade.Fuse(ctx, config.Timeout, engine.FusionInput{
		Landmarks:  tracked.Landmarks,
		CameraPose: tracked.CameraPose,
		Map:        view,
		Time:       img.ReadingTime,
	})
	if err != nil {
		return publisher.Publication{}, errors.Wrap(err, "fuse error")
	}

	config.sequence++
	var pub publisher.Publication
	pub, config.history = snapshot.Build(snapshot.Input{
		Sequence:     config.sequence,
		Time:         img.ReadingTime,
		State:        tracked.State,
		Accuracy:     accuracy,
		Landmarks:    tracked.Landmarks,
		Fusion:       fused,
		Map:          view.Info(),
		MapBroadcast: config.broadcast(),
	}, config.history)
	config.Channel.Push(pub)

	if config.Logger.Level() == zapcore.DebugLevel {
		config.Logger.Debugw("cycle complete",
			"sequence", pub.Sequence,
			"state", pub.State.String(),
			"landmarks", tracked.Landmarks.Len(),
			"correspondences", len(pub.Correspondences),
			"accuracy", accuracy,
			"processing_time", time.Since(startTime),
		)
	}
	return pub, nil
}

// broadcast reports whether the current sequence carries the full map. The first
// publication always does so consumers never wait a full period for it.
func (config *Config) broadcast() bool {
	if config.sequence == 1 {
		return true
	}
	if config.BroadcastEveryNCycles <= 0 {
		return false
	}
	return config.sequence%uint64(config.BroadcastEveryNCycles) == 0
}

// Trajectories returns the fused and offset history accumulated so far. It must only be
// called from the goroutine driving the Config.
func (config *Config) Trajectories() snapshot.Trajectories {
	return config.history
}
