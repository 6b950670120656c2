package enginefacade

import (
	"context"
	"sync"
	"time"

	"github.com/viam-modules/viam-vllm/engine"
)

// Mock represents a fake instance of a facade.
type Mock struct {
	Facade
	requestFunc func(
		ctxParent context.Context,
		requestType RequestType,
		inputs map[RequestParamType]interface{},
		timeout time.Duration,
	) (interface{}, error)
	startWorkerFunc func(
		ctx context.Context,
		activeBackgroundWorkers *sync.WaitGroup,
	)

	InitializeFunc func(
		ctx context.Context,
		timeout time.Duration,
		activeBackgroundWorkers *sync.WaitGroup,
	) error
	TrackFunc func(
		ctx context.Context,
		timeout time.Duration,
		img engine.Image,
		criteria engine.Criteria,
	) (engine.TrackResult, error)
	FuseFunc func(
		ctx context.Context,
		timeout time.Duration,
		in engine.FusionInput,
	) (engine.FusionResult, error)
	TerminateFunc func(
		ctx context.Context,
		timeout time.Duration,
	) error
}

// request calls the injected requestFunc or the real version.
func (f *Mock) request(
	ctxParent context.Context,
	requestType RequestType,
	inputs map[RequestParamType]interface{},
	timeout time.Duration,
) (interface{}, error) {
	if f.requestFunc == nil {
		return f.Facade.request(ctxParent, requestType, inputs, timeout)
	}
	return f.requestFunc(ctxParent, requestType, inputs, timeout)
}

// startWorker calls the injected startWorkerFunc or the real version.
func (f *Mock) startWorker(
	ctx context.Context,
	activeBackgroundWorkers *sync.WaitGroup,
) {
	if f.startWorkerFunc == nil {
		f.Facade.startWorker(ctx, activeBackgroundWorkers)
		return
	}
	f.startWorkerFunc(ctx, activeBackgroundWorkers)
}

// Initialize calls the injected InitializeFunc or the real version.
func (f *Mock) Initialize(
	ctx context.Context,
	timeout time.Duration,
	activeBackgroundWorkers *sync.WaitGroup,
) error {
	if f.InitializeFunc == nil {
		return f.Facade.Initialize(ctx, timeout, activeBackgroundWorkers)
	}
	return f.InitializeFunc(ctx, timeout, activeBackgroundWorkers)
}

// Track calls the injected TrackFunc or the real version.
func (f *Mock) Track(
	ctx context.Context,
	timeout time.Duration,
	img engine.Image,
	criteria engine.Criteria,
) (engine.TrackResult, error) {
	if f.TrackFunc == nil {
		return f.Facade.Track(ctx, timeout, img, criteria)
	}
	return f.TrackFunc(ctx, timeout, img, criteria)
}

// Fuse calls the injected FuseFunc or the real version.
func (f *Mock) Fuse(
	ctx context.Context,
	timeout time.Duration,
	in engine.FusionInput,
) (engine.FusionResult, error) {
	if f.FuseFunc == nil {
		return f.Facade.Fuse(ctx, timeout, in)
	}
	return f.FuseFunc(ctx, timeout, in)
}

// Terminate calls the injected TerminateFunc or the real version.
func (f *Mock) Terminate(
	ctx context.Context,
	timeout time.Duration,
) error {
	if f.TerminateFunc == nil {
		return f.Facade.Terminate(ctx, timeout)
	}
	return f.TerminateFunc(ctx, timeout)
}
