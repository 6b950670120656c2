package config

import (
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-vllm/controller"
	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/transform"
)

// Defaults for config_params. Lengths are in millimeters, the unit of rdk point clouds.
const (
	DefaultVoxelGridLeaf          = 50.0
	DefaultNormalSearchLeaf       = 200.0
	DefaultSubmapGridLeaf         = 1000.0
	DefaultCorrespondenceDistance = 500.0
	DefaultIteration              = 30
	DefaultBroadcastEveryNCycles  = 50
	DefaultFrameSkip              = 0
)

// Params are the parsed config_params. Keys it does not know are left in Engine and
// handed to the tracker and fuser unchanged.
type Params struct {
	Map                    mapgrid.Parameters
	Iteration              int
	Accuracy               float64
	BroadcastEveryNCycles  int
	FrameSkip              int
	CorrespondenceDistance float64
	InitialAlignment       transform.Transform
	Engine                 map[string]string
}

var knownParams = map[string]bool{
	"voxel_grid_leaf":          true,
	"normal_search_leaf":       true,
	"submap_grid_leaf":         true,
	"iteration":                true,
	"accuracy":                 true,
	"broadcast_every_n_cycles": true,
	"frame_skip":               true,
	"correspondence_distance":  true,
	"t_init":                   true,
	"normal_init":              true,
	"up_init":                  true,
	"s_init":                   true,
}

// ParseParams parses config_params, applying defaults for every key that is absent.
func ParseParams(raw map[string]string) (Params, error) {
	p := Params{
		Map: mapgrid.Parameters{
			VoxelLeaf:          DefaultVoxelGridLeaf,
			NormalSearchRadius: DefaultNormalSearchLeaf,
			CellSize:           DefaultSubmapGridLeaf,
		},
		Iteration:              DefaultIteration,
		Accuracy:               controller.DefaultAccuracy,
		BroadcastEveryNCycles:  DefaultBroadcastEveryNCycles,
		FrameSkip:              DefaultFrameSkip,
		CorrespondenceDistance: DefaultCorrespondenceDistance,
		InitialAlignment:       transform.Identity(),
		Engine:                 map[string]string{},
	}

	var err error
	floats := []struct {
		key string
		dst *float64
	}{
		{"voxel_grid_leaf", &p.Map.VoxelLeaf},
		{"normal_search_leaf", &p.Map.NormalSearchRadius},
		{"submap_grid_leaf", &p.Map.CellSize},
		{"accuracy", &p.Accuracy},
		{"correspondence_distance", &p.CorrespondenceDistance},
	}
	for _, f := range floats {
		if err = parseFloat(raw, f.key, f.dst); err != nil {
			return Params{}, err
		}
	}
	if p.Map.CellSize <= 0 {
		return Params{}, newError("config_params[submap_grid_leaf] must be greater than zero")
	}
	if p.Map.NormalSearchRadius <= 0 {
		return Params{}, newError("config_params[normal_search_leaf] must be greater than zero")
	}
	if p.CorrespondenceDistance <= 0 {
		return Params{}, newError("config_params[correspondence_distance] must be greater than zero")
	}
	if p.Accuracy < controller.MinAccuracy || p.Accuracy > controller.MaxAccuracy {
		return Params{}, newError("config_params[accuracy] must be between 0.1 and 0.9")
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"iteration", &p.Iteration, 1},
		{"broadcast_every_n_cycles", &p.BroadcastEveryNCycles, 1},
		{"frame_skip", &p.FrameSkip, 0},
	}
	for _, i := range ints {
		if err = parseInt(raw, i.key, i.dst); err != nil {
			return Params{}, err
		}
		if *i.dst < i.min {
			return Params{}, newError("config_params[" + i.key + "] cannot be less than " + strconv.Itoa(i.min))
		}
	}

	if p.InitialAlignment, err = parseInitialAlignment(raw); err != nil {
		return Params{}, err
	}

	for k, v := range raw {
		if !knownParams[k] {
			p.Engine[k] = v
		}
	}
	return p, nil
}

// parseInitialAlignment builds the map-from-camera guess. The defaults produce the identity.
func parseInitialAlignment(raw map[string]string) (transform.Transform, error) {
	_, hasT := raw["t_init"]
	_, hasN := raw["normal_init"]
	_, hasU := raw["up_init"]
	_, hasS := raw["s_init"]
	if !hasT && !hasN && !hasU && !hasS {
		return transform.Identity(), nil
	}

	translation := r3.Vector{}
	normal := r3.Vector{Z: 1}
	up := r3.Vector{Y: -1}
	scale := 1.0
	if err := parseVector(raw, "t_init", &translation); err != nil {
		return transform.Identity(), err
	}
	if err := parseVector(raw, "normal_init", &normal); err != nil {
		return transform.Identity(), err
	}
	if err := parseVector(raw, "up_init", &up); err != nil {
		return transform.Identity(), err
	}
	if err := parseFloat(raw, "s_init", &scale); err != nil {
		return transform.Identity(), err
	}
	guess, err := transform.FromInitialGuess(translation, normal, up, scale)
	if err != nil {
		return transform.Identity(), newError(err.Error())
	}
	return guess, nil
}

func parseFloat(raw map[string]string, key string, dst *float64) error {
	s, ok := raw[key]
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return newError("config_params[" + key + "] must be a number")
	}
	*dst = v
	return nil
}

func parseInt(raw map[string]string, key string, dst *int) error {
	s, ok := raw[key]
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return newError("config_params[" + key + "] must only contain digits")
	}
	*dst = v
	return nil
}

// parseVector reads a vector written as "x,y,z".
func parseVector(raw map[string]string, key string, dst *r3.Vector) error {
	s, ok := raw[key]
	if !ok {
		return nil
	}
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return newError("config_params[" + key + "] must be three comma separated numbers")
	}
	var xyz [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return newError("config_params[" + key + "] must be three comma separated numbers")
		}
		xyz[i] = v
	}
	*dst = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	return nil
}

// LogParams writes the resolved parameters at debug level.
func LogParams(p Params, logger logging.Logger) {
	logger.Debugw("resolved config_params",
		"voxel_grid_leaf", p.Map.VoxelLeaf,
		"normal_search_leaf", p.Map.NormalSearchRadius,
		"submap_grid_leaf", p.Map.CellSize,
		"iteration", p.Iteration,
		"accuracy", p.Accuracy,
		"broadcast_every_n_cycles", p.BroadcastEveryNCycles,
		"frame_skip", p.FrameSkip,
		"correspondence_distance", p.CorrespondenceDistance,
	)
	if len(p.Engine) > 0 {
		logger.Debugw("passing engine parameters through", "params", p.Engine)
	}
}
