// Package config implements functions to assist with attribute evaluation in the SLAM service.
package config

import (
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	rdkutils "go.viam.com/rdk/utils"
	"go.viam.com/utils"

	"github.com/viam-modules/viam-vllm/engine"
)

var errCameraMustHaveName = errors.New("\"camera[name]\" is required")

// newError returns an error specific to a failure in the SLAM config.
func newError(configError string) error {
	return errors.Errorf("SLAM Service configuration error: %s", configError)
}

// Config describes how to configure the SLAM service.
type Config struct {
	Camera        map[string]string `json:"camera"`
	MapPCDFile    string            `json:"map_pcd_file"`
	Tracker       string            `json:"tracker"`
	Fuser         string            `json:"fuser"`
	ConfigParams  map[string]string `json:"config_params"`
	DataDirectory string            `json:"data_dir"`
	RefreshRateHz *int              `json:"refresh_rate_hz"`
}

// OptionalParameters are the resolved optional attributes.
type OptionalParameters struct {
	CameraName            string
	CameraDataFrequencyHz int
	CameraMimeType        string
	Tracker               string
	Fuser                 string
	RefreshRateHz         int
}

// Validate creates the list of implicit dependencies.
func (config *Config) Validate(path string) ([]string, error) {
	cameraName, ok := config.Camera["name"]
	if !ok || cameraName == "" {
		return nil, utils.NewConfigValidationError(path, errCameraMustHaveName)
	}

	if dataFreqHz, ok := config.Camera["data_frequency_hz"]; ok {
		dataFreqHz, err := strconv.Atoi(dataFreqHz)
		if err != nil {
			return nil, errors.New("camera[data_frequency_hz] must only contain digits")
		}
		if dataFreqHz < 0 {
			return nil, errors.New("cannot specify camera[data_frequency_hz] less than zero")
		}
		if dataFreqHz == 0 {
			return nil, errors.New("camera[data_frequency_hz] must be greater than zero")
		}
	}

	if config.MapPCDFile == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "map_pcd_file")
	}

	if config.RefreshRateHz != nil && *config.RefreshRateHz < 0 {
		return nil, errors.New("cannot specify refresh_rate_hz less than zero")
	}

	if _, err := ParseParams(config.ConfigParams); err != nil {
		return nil, err
	}

	deps := []string{cameraName}

	return deps, nil
}

// GetOptionalParameters sets any unset optional config parameters to the values passed to this function,
// and returns them.
func GetOptionalParameters(
	config *Config,
	defaultCameraDataFrequencyHz int,
	defaultRefreshRateHz int,
	logger logging.Logger,
) (OptionalParameters, error) {
	params := OptionalParameters{
		CameraName:            config.Camera["name"],
		CameraDataFrequencyHz: defaultCameraDataFrequencyHz,
		CameraMimeType:        rdkutils.MimeTypePCD,
		Tracker:               engine.PointCloudTracker,
		Fuser:                 engine.InitialGuessFuser,
		RefreshRateHz:         defaultRefreshRateHz,
	}

	if strCameraDataFreqHz, ok := config.Camera["data_frequency_hz"]; ok {
		cameraDataFreqHz, err := strconv.Atoi(strCameraDataFreqHz)
		if err != nil {
			return OptionalParameters{}, newError("camera[data_frequency_hz] must only contain digits")
		}
		params.CameraDataFrequencyHz = cameraDataFreqHz
	} else {
		logger.Debugf("config did not provide camera[data_frequency_hz], setting to default value of %d", defaultCameraDataFrequencyHz)
	}
	if params.CameraDataFrequencyHz == 0 {
		return OptionalParameters{}, newError("camera[data_frequency_hz] must be greater than zero")
	}

	if mimeType, ok := config.Camera["mime_type"]; ok && mimeType != "" {
		params.CameraMimeType = mimeType
	} else {
		logger.Debugf("config did not provide camera[mime_type], setting to default value of %v", params.CameraMimeType)
	}

	if config.Tracker != "" {
		params.Tracker = config.Tracker
	} else {
		logger.Debugf("no tracker given, setting to default value of %v", params.Tracker)
	}

	if config.Fuser != "" {
		params.Fuser = config.Fuser
	} else {
		logger.Debugf("no fuser given, setting to default value of %v", params.Fuser)
	}

	if config.RefreshRateHz != nil && *config.RefreshRateHz > 0 {
		params.RefreshRateHz = *config.RefreshRateHz
	} else {
		logger.Debugf("no refresh_rate_hz given, setting to default value of %d", defaultRefreshRateHz)
	}

	return params, nil
}
