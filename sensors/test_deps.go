package sensors

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/camera/replaypcd"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/testutils/inject"
	rdkutils "go.viam.com/rdk/utils"
	"go.viam.com/rdk/utils/contextutils"
)

// BadTime can be used to represent something that should cause an error while parsing it as a time.
const BadTime = "NOT A TIME"

var (
	// TestTimestamp can be used to test specific timestamps provided by a replay sensor.
	TestTimestamp = time.Now().UTC().Format("2006-01-02T15:04:05.999999Z")
	// TestImage is the frame returned by the test color cameras.
	TestImage = []byte{0xff, 0xd8, 0xff, 0xd9}
)

// TestSensor represents sensors used for testing.
type TestSensor string

const (
	// InvalidSensorTestErrMsg represents an error message that indicates that the sensor is invalid.
	InvalidSensorTestErrMsg = "invalid test sensor"

	// GoodCamera is a color camera that works as expected and returns a jpeg.
	GoodCamera TestSensor = "good_camera"
	// GoodDepthCamera is a depth camera that works as expected and returns a small planar pointcloud.
	GoodDepthCamera TestSensor = "good_depth_camera"
	// WarmingUpCamera is a camera whose first read returns a "warming up" error.
	WarmingUpCamera TestSensor = "warming_up_camera"
	// CameraWithErroringFunctions is a camera whose functions return errors.
	CameraWithErroringFunctions TestSensor = "camera_with_erroring_functions"
	// CameraWithoutPCD is a depth camera whose properties say it cannot serve point clouds.
	CameraWithoutPCD TestSensor = "camera_without_pcd"
	// CameraWithErroringProperties is a camera whose Properties function returns an error.
	CameraWithErroringProperties TestSensor = "camera_with_erroring_properties"
	// GibberishCamera is a camera that can't be found in the dependencies.
	GibberishCamera TestSensor = "gibberish_camera"
	// NoCamera represents that no camera is set up or added.
	NoCamera TestSensor = ""

	// ReplayCamera is a replay camera that works as expected and returns a jpeg.
	ReplayCamera TestSensor = "replay_camera"
	// InvalidReplayCamera is a replay camera whose meta timestamp is invalid.
	InvalidReplayCamera TestSensor = "invalid_replay_camera"
	// FinishedReplayCamera is a replay depth camera whose NextPointCloud function returns an end of dataset error.
	FinishedReplayCamera TestSensor = "finished_replay_camera"
)

var testCameras = map[TestSensor]func() *inject.Camera{
	GoodCamera:                   getGoodCamera,
	GoodDepthCamera:              getGoodDepthCamera,
	WarmingUpCamera:              getWarmingUpCamera,
	CameraWithErroringFunctions:  getCameraWithErroringFunctions,
	CameraWithoutPCD:             getCameraWithoutPCD,
	CameraWithErroringProperties: getCameraWithErroringProperties,
	ReplayCamera:                 func() *inject.Camera { return getReplayCamera(TestTimestamp) },
	InvalidReplayCamera:          func() *inject.Camera { return getReplayCamera(BadTime) },
	FinishedReplayCamera:         getFinishedReplayCamera,
}

// SetupDeps returns the dependencies based on the camera name passed as argument.
func SetupDeps(cameraName TestSensor) resource.Dependencies {
	deps := make(resource.Dependencies)
	if getCameraFunc, ok := testCameras[cameraName]; ok {
		deps[camera.Named(string(cameraName))] = getCameraFunc()
	}
	return deps
}

// TestFloor returns a 10x10 lattice with 0.1 spacing on the plane z = 1.
func TestFloor() []r3.Vector {
	points := make([]r3.Vector, 100)
	for i := range points {
		points[i] = r3.Vector{X: float64(i%10) * 0.1, Y: float64(i/10) * 0.1, Z: 1}
	}
	return points
}

func floorCloud() (pointcloud.PointCloud, error) {
	pc := pointcloud.New()
	for _, p := range TestFloor() {
		if err := pc.Set(p, pointcloud.NewBasicData()); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func jpegImage(context.Context, string, map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	return TestImage, camera.ImageMetadata{MimeType: rdkutils.MimeTypeJPEG}, nil
}

func getGoodCamera() *inject.Camera {
	cam := &inject.Camera{}
	cam.ImageFunc = jpegImage
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return nil, errors.New("camera has no depth")
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: false}, nil
	}
	return cam
}

func getGoodDepthCamera() *inject.Camera {
	cam := &inject.Camera{}
	cam.ImageFunc = jpegImage
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return floorCloud()
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}

func getWarmingUpCamera() *inject.Camera {
	cam := &inject.Camera{}
	counter := 0
	cam.ImageFunc = func(
		ctx context.Context, mimeType string, extra map[string]interface{},
	) ([]byte, camera.ImageMetadata, error) {
		counter++
		if counter == 1 {
			return nil, camera.ImageMetadata{}, errors.Errorf("warming up %d", counter)
		}
		return jpegImage(ctx, mimeType, extra)
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{}, nil
	}
	return cam
}

func getCameraWithErroringFunctions() *inject.Camera {
	cam := &inject.Camera{}
	cam.ImageFunc = func(context.Context, string, map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
		return nil, camera.ImageMetadata{}, errors.New(InvalidSensorTestErrMsg)
	}
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return nil, errors.New(InvalidSensorTestErrMsg)
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}

func getCameraWithoutPCD() *inject.Camera {
	cam := getGoodDepthCamera()
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: false}, nil
	}
	return cam
}

func getCameraWithErroringProperties() *inject.Camera {
	cam := getGoodCamera()
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{}, errors.New(InvalidSensorTestErrMsg)
	}
	return cam
}

func getReplayCamera(testTime string) *inject.Camera {
	cam := &inject.Camera{}
	cam.ImageFunc = func(
		ctx context.Context, mimeType string, extra map[string]interface{},
	) ([]byte, camera.ImageMetadata, error) {
		md := ctx.Value(contextutils.MetadataContextKey)
		if mdMap, ok := md.(map[string][]string); ok {
			mdMap[contextutils.TimeRequestedMetadataKey] = []string{testTime}
		}
		return jpegImage(ctx, mimeType, extra)
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{}, nil
	}
	return cam
}

func getFinishedReplayCamera() *inject.Camera {
	cam := &inject.Camera{}
	cam.NextPointCloudFunc = func(ctx context.Context) (pointcloud.PointCloud, error) {
		return nil, replaypcd.ErrEndOfDataset
	}
	cam.PropertiesFunc = func(ctx context.Context) (camera.Properties, error) {
		return camera.Properties{SupportsPCD: true}, nil
	}
	return cam
}
