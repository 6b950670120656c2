// Package sensors wraps the camera feeding the localization cycle so every frame
// carries the time it was captured.
package sensors

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

const replayTimestampErrorMessage = "replay sensor timestamp parse RFC3339Nano error"

// TimedCamera describes a camera that reports the time its frame is from & whether or not it is
// from a replay camera.
type TimedCamera interface {
	Name() string
	DataFrequencyHz() int
	MimeType() string
	TimedImage(ctx context.Context) (TimedImageResponse, error)
}

// TimedImageResponse represents a camera frame with a time & allows the caller to know if the
// frame is from a replay camera.
type TimedImageResponse struct {
	Image          []byte
	MimeType       string
	ReadingTime    time.Time
	IsReplaySensor bool
}

// ValidateGetData checks every sensorValidationInterval if the provided camera
// returned a valid timed frame until either success or sensorValidationMaxTimeout has elapsed.
// returns an error if no valid frame was returned.
func ValidateGetData(
	ctx context.Context,
	cam TimedCamera,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	ctx, span := trace.StartSpan(ctx, "viamvllm::sensors::ValidateGetData")
	defer span.End()

	startTime := time.Now().UTC()

	for {
		_, err := cam.TimedImage(ctx)
		if err == nil {
			break
		}

		logger.Debugw("ValidateGetData hit error: ", "error", err)
		if time.Since(startTime) >= sensorValidationMaxTimeout {
			return errors.Wrap(err, "ValidateGetData timeout")
		}
		if !goutils.SelectContextOrWait(ctx, sensorValidationInterval) {
			return ctx.Err()
		}
	}

	return nil
}
