package sensors

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	rdkutils "go.viam.com/rdk/utils"
	"go.viam.com/rdk/utils/contextutils"
)

// Camera is a camera component read at a fixed rate. Depth cameras are read as
// binary PCD, everything else through the camera's image API.
type Camera struct {
	name            string
	dataFrequencyHz int
	mimeType        string
	Camera          camera.Camera
}

// Name returns the name of the camera.
func (c Camera) Name() string {
	return c.name
}

// DataFrequencyHz returns the rate the camera is read at.
func (c Camera) DataFrequencyHz() int {
	return c.dataFrequencyHz
}

// MimeType returns the mime type frames are requested in.
func (c Camera) MimeType() string {
	return c.mimeType
}

// TimedImage returns a frame from the camera and the time the frame is from & whether
// it was a replay camera or not.
func (c Camera) TimedImage(ctx context.Context) (TimedImageResponse, error) {
	replay := false

	ctxWithMetadata, md := contextutils.ContextWithMetadata(ctx)
	data, mimeType, err := c.read(ctxWithMetadata)
	if err != nil {
		return TimedImageResponse{}, err
	}
	readingTime := time.Now().UTC()

	if timeRequestedMetadata, ok := md[contextutils.TimeRequestedMetadataKey]; ok {
		replay = true
		if readingTime, err = time.Parse(time.RFC3339Nano, timeRequestedMetadata[0]); err != nil {
			return TimedImageResponse{}, errors.Wrap(err, replayTimestampErrorMessage)
		}
	}
	return TimedImageResponse{Image: data, MimeType: mimeType, ReadingTime: readingTime, IsReplaySensor: replay}, nil
}

func (c Camera) read(ctx context.Context) ([]byte, string, error) {
	if c.mimeType == rdkutils.MimeTypePCD {
		pc, err := c.Camera.NextPointCloud(ctx)
		if err != nil {
			return nil, "", errors.Wrap(err, "NextPointCloud error")
		}
		buf := new(bytes.Buffer)
		if err := pointcloud.ToPCD(pc, buf, pointcloud.PCDBinary); err != nil {
			return nil, "", errors.Wrap(err, "ToPCD error")
		}
		return buf.Bytes(), rdkutils.MimeTypePCD, nil
	}

	data, metadata, err := c.Camera.Image(ctx, c.mimeType, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "Image error")
	}
	mimeType := metadata.MimeType
	if mimeType == "" {
		mimeType = c.mimeType
	}
	return data, mimeType, nil
}

// NewCamera returns a new Camera.
func NewCamera(
	ctx context.Context,
	deps resource.Dependencies,
	cameraName string,
	mimeType string,
	dataFrequencyHz int,
	logger logging.Logger,
) (TimedCamera, error) {
	_, span := trace.StartSpan(ctx, "viamvllm::sensors::NewCamera")
	defer span.End()
	cam, err := camera.FromDependencies(deps, cameraName)
	if err != nil {
		return Camera{}, errors.Wrapf(err, "error getting camera %v for slam service", cameraName)
	}

	properties, err := cam.Properties(ctx)
	if err != nil {
		return Camera{}, errors.Wrapf(err, "error getting camera properties %v for slam service", cameraName)
	}

	// depth frames are read as point clouds, so the camera has to serve them
	if mimeType == rdkutils.MimeTypePCD && !properties.SupportsPCD {
		return Camera{}, errors.New("configuring camera error: " +
			"'camera' must support PCD for " + rdkutils.MimeTypePCD + " frames")
	}
	logger.Debugw("using camera", "name", cameraName, "mime_type", mimeType, "data_frequency_hz", dataFrequencyHz)

	return Camera{
		name:            cameraName,
		dataFrequencyHz: dataFrequencyHz,
		mimeType:        mimeType,
		Camera:          cam,
	}, nil
}
