// Package enginefacade serializes every call into the tracking and fusion engines
// through one goroutine.
package enginefacade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-modules/viam-vllm/engine"
)

var emptyRequestParams = map[RequestParamType]interface{}{}

// ErrNotInitialized is returned when the engines are used before Initialize or after Terminate.
var ErrNotInitialized = errors.New("engines are not initialized")

// Initialize builds the engines on the worker goroutine.
func (f *Facade) Initialize(ctx context.Context, timeout time.Duration, activeBackgroundWorkers *sync.WaitGroup) error {
	f.startWorker(ctx, activeBackgroundWorkers)
	_, err := f.request(ctx, initialize, emptyRequestParams, timeout)
	return err
}

// Track hands a frame to the tracker.
func (f *Facade) Track(
	ctx context.Context,
	timeout time.Duration,
	img engine.Image,
	criteria engine.Criteria,
) (engine.TrackResult, error) {
	requestParams := map[RequestParamType]interface{}{
		image:         img,
		trackCriteria: criteria,
	}
	untyped, err := f.request(ctx, track, requestParams, timeout)
	if err != nil {
		return engine.TrackResult{}, err
	}

	res, ok := untyped.(engine.TrackResult)
	if !ok {
		return engine.TrackResult{}, errors.New("unable to cast response from tracker to a track result")
	}
	return res, nil
}

// Fuse hands landmarks and the map to the fuser.
func (f *Facade) Fuse(ctx context.Context, timeout time.Duration, in engine.FusionInput) (engine.FusionResult, error) {
	requestParams := map[RequestParamType]interface{}{
		fusionInput: in,
	}
	untyped, err := f.request(ctx, fuse, requestParams, timeout)
	if err != nil {
		return engine.FusionResult{}, err
	}

	res, ok := untyped.(engine.FusionResult)
	if !ok {
		return engine.FusionResult{}, errors.New("unable to cast response from fuser to a fusion result")
	}
	return res, nil
}

// Terminate closes both engines.
func (f *Facade) Terminate(ctx context.Context, timeout time.Duration) error {
	_, err := f.request(ctx, terminate, emptyRequestParams, timeout)
	return err
}

// RequestType defines the engine call that is being made.
type RequestType int64

const (
	// initialize builds the tracker and the fuser.
	initialize RequestType = iota
	// track calls Tracker.Track.
	track
	// fuse calls Fuser.Fuse.
	fuse
	// terminate closes the tracker and the fuser.
	terminate
)

// RequestParamType defines the type being provided as input to the work.
type RequestParamType int64

const (
	// image is a camera frame.
	image RequestParamType = iota
	// trackCriteria are the extraction-quality parameters.
	trackCriteria
	// fusionInput is the fuser input.
	fusionInput
)

// Response defines the result of one piece of work that can be put on the result channel.
type Response struct {
	result interface{}
	err    error
}

// Config names the engines the facade builds on Initialize.
type Config struct {
	Tracker string
	Fuser   string
	Options engine.Options
}

/*
Facade exists to ensure that only one goroutine is calling into the engines at a time, so engines
that are not safe for concurrent use can be driven from the cycle worker and the service API alike.
*/
type Facade struct {
	config      Config
	tracker     engine.Tracker
	fuser       engine.Fuser
	requestChan chan Request
}

// Interface defines the functionality of a Facade instance.
// It should not be used outside of this package but needs to be public for testing purposes.
type Interface interface {
	request(
		ctxParent context.Context,
		requestType RequestType,
		inputs map[RequestParamType]interface{}, timeout time.Duration,
	) (interface{}, error)
	startWorker(
		ctx context.Context,
		activeBackgroundWorkers *sync.WaitGroup,
	)

	Initialize(
		ctx context.Context,
		timeout time.Duration,
		activeBackgroundWorkers *sync.WaitGroup,
	) error
	Track(
		ctx context.Context,
		timeout time.Duration,
		img engine.Image,
		criteria engine.Criteria,
	) (engine.TrackResult, error)
	Fuse(
		ctx context.Context,
		timeout time.Duration,
		in engine.FusionInput,
	) (engine.FusionResult, error)
	Terminate(
		ctx context.Context,
		timeout time.Duration,
	) error
}

// Request defines all of the necessary pieces to call into the engines.
type Request struct {
	ctx           context.Context
	responseChan  chan Response
	requestType   RequestType
	requestParams map[RequestParamType]interface{}
}

// New instantiates the Facade struct which limits calls into the engines.
func New(config Config) Facade {
	return Facade{
		config:      config,
		requestChan: make(chan Request),
	}
}

// doWork provides the logic to call the correct engine functions with the correct input.
func (r *Request) doWork(f *Facade) (interface{}, error) {
	switch r.requestType {
	case initialize:
		return nil, f.initializeEngines(r.ctx)
	case track:
		if f.tracker == nil {
			return nil, ErrNotInitialized
		}
		img, ok := r.requestParams[image].(engine.Image)
		if !ok {
			return nil, errors.New("could not cast inputted image to type engine.Image")
		}
		criteria, ok := r.requestParams[trackCriteria].(engine.Criteria)
		if !ok {
			return nil, errors.New("could not cast inputted criteria to type engine.Criteria")
		}
		return f.tracker.Track(r.ctx, img, criteria)
	case fuse:
		if f.fuser == nil {
			return nil, ErrNotInitialized
		}
		in, ok := r.requestParams[fusionInput].(engine.FusionInput)
		if !ok {
			return nil, errors.New("could not cast inputted fusion input to type engine.FusionInput")
		}
		return f.fuser.Fuse(r.ctx, in)
	case terminate:
		return nil, f.closeEngines()
	}
	return nil, fmt.Errorf("no worktype found for: %v", r.requestType)
}

func (f *Facade) initializeEngines(ctx context.Context) error {
	if f.tracker != nil || f.fuser != nil {
		return errors.New("engines are already initialized")
	}
	tracker, err := engine.NewTracker(ctx, f.config.Tracker, f.config.Options)
	if err != nil {
		return err
	}
	fuser, err := engine.NewFuser(ctx, f.config.Fuser, f.config.Options)
	if err != nil {
		return multierr.Combine(err, tracker.Close())
	}
	f.tracker, f.fuser = tracker, fuser
	return nil
}

func (f *Facade) closeEngines() error {
	var err error
	if f.tracker != nil {
		err = multierr.Combine(err, errors.Wrap(f.tracker.Close(), "error closing tracker"))
	}
	if f.fuser != nil {
		err = multierr.Combine(err, errors.Wrap(f.fuser.Close(), "error closing fuser"))
	}
	f.tracker, f.fuser = nil, nil
	return err
}

// request wraps calls into the engines. This function requires the caller to know which RequestTypes
// requires casting to which response values.
func (f *Facade) request(
	ctxParent context.Context,
	requestType RequestType,
	inputs map[RequestParamType]interface{},
	timeout time.Duration,
) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctxParent, timeout)
	defer cancel()

	req := Request{
		ctx:           ctx,
		responseChan:  make(chan Response, 1),
		requestType:   requestType,
		requestParams: inputs,
	}

	// wait until work can call into the engines (and timeout if needed)
	select {
	case f.requestChan <- req:
		select {
		case response := <-req.responseChan:
			return response.result, response.err
		case <-ctx.Done():
			msg := "timeout reading from engines"
			return nil, multierr.Combine(errors.New(msg), ctx.Err())
		}
	case <-ctx.Done():
		msg := "timeout writing to engines"
		return nil, multierr.Combine(errors.New(msg), ctx.Err())
	}
}

// startWorker starts the background goroutine that is responsible for ensuring only one call
// into the engines is being made at a time.
func (f *Facade) startWorker(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup) {
	activeBackgroundWorkers.Add(1)
	go func() {
		defer activeBackgroundWorkers.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case workToDo := <-f.requestChan:
				result, err := workToDo.doWork(f)
				workToDo.responseChan <- Response{result: result, err: err}
			}
		}
	}()
}
