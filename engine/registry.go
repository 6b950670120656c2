package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/viam-vllm/transform"
)

// Options are handed to every engine factory.
type Options struct {
	// InitialAlignment maps the tracker frame into the map frame before any fusion.
	InitialAlignment transform.Transform
	// CorrespondenceDistance bounds landmark to target matching.
	CorrespondenceDistance float64
	// NormalSearchRadius is the neighborhood radius for normal estimation.
	NormalSearchRadius float64
	// Params holds the raw config_params for engine specific settings.
	Params map[string]string
	Logger logging.Logger
}

// TrackerFactory builds a Tracker.
type TrackerFactory func(ctx context.Context, opts Options) (Tracker, error)

// FuserFactory builds a Fuser.
type FuserFactory func(ctx context.Context, opts Options) (Fuser, error)

var (
	registryMu sync.RWMutex
	trackers   = map[string]TrackerFactory{}
	fusers     = map[string]FuserFactory{}
)

// RegisterTracker makes a tracker available by name. It panics on a duplicate name.
func RegisterTracker(name string, factory TrackerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := trackers[name]; ok {
		panic(errors.Errorf("tracker %q already registered", name))
	}
	trackers[name] = factory
}

// RegisterFuser makes a fuser available by name. It panics on a duplicate name.
func RegisterFuser(name string, factory FuserFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := fusers[name]; ok {
		panic(errors.Errorf("fuser %q already registered", name))
	}
	fusers[name] = factory
}

// NewTracker builds the tracker registered under name.
func NewTracker(ctx context.Context, name string, opts Options) (Tracker, error) {
	registryMu.RLock()
	factory, ok := trackers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown tracker %q, registered trackers: %v", name, TrackerNames())
	}
	t, err := factory(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating tracker %q", name)
	}
	return t, nil
}

// NewFuser builds the fuser registered under name.
func NewFuser(ctx context.Context, name string, opts Options) (Fuser, error) {
	registryMu.RLock()
	factory, ok := fusers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown fuser %q, registered fusers: %v", name, FuserNames())
	}
	f, err := factory(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating fuser %q", name)
	}
	return f, nil
}

// TrackerNames returns the registered tracker names in sorted order.
func TrackerNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(trackers))
	for name := range trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FuserNames returns the registered fuser names in sorted order.
func FuserNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(fusers))
	for name := range fusers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
