// Package inject provides dependency injected engines for tests.
package inject

import (
	"context"

	"github.com/viam-modules/viam-vllm/engine"
)

// Tracker is an injected engine.Tracker.
type Tracker struct {
	engine.Tracker
	TrackFunc func(ctx context.Context, img engine.Image, criteria engine.Criteria) (engine.TrackResult, error)
	CloseFunc func() error
}

// Track calls the injected Track or the real version.
func (t *Tracker) Track(ctx context.Context, img engine.Image, criteria engine.Criteria) (engine.TrackResult, error) {
	if t.TrackFunc == nil {
		return t.Tracker.Track(ctx, img, criteria)
	}
	return t.TrackFunc(ctx, img, criteria)
}

// Close calls the injected Close or the real version.
func (t *Tracker) Close() error {
	if t.CloseFunc == nil {
		if t.Tracker == nil {
			return nil
		}
		return t.Tracker.Close()
	}
	return t.CloseFunc()
}

// Fuser is an injected engine.Fuser.
type Fuser struct {
	engine.Fuser
	FuseFunc  func(ctx context.Context, in engine.FusionInput) (engine.FusionResult, error)
	CloseFunc func() error
}

// Fuse calls the injected Fuse or the real version.
func (f *Fuser) Fuse(ctx context.Context, in engine.FusionInput) (engine.FusionResult, error) {
	if f.FuseFunc == nil {
		return f.Fuser.Fuse(ctx, in)
	}
	return f.FuseFunc(ctx, in)
}

// Close calls the injected Close or the real version.
func (f *Fuser) Close() error {
	if f.CloseFunc == nil {
		if f.Fuser == nil {
			return nil
		}
		return f.Fuser.Close()
	}
	return f.CloseFunc()
}
