// Package engine defines the contracts of the external tracking and fusion engines
// and a registry the service builds them from by name.
package engine

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/transform"
)

// TrackingState is the state code reported by a tracker.
type TrackingState int

const (
	// NotInitialized means the tracker has not seen a usable frame yet.
	NotInitialized TrackingState = iota
	// Initializing means the tracker is building its first local map.
	Initializing
	// Tracking means the camera pose is being tracked.
	Tracking
	// Lost means tracking failed for the last frame.
	Lost
)

func (s TrackingState) String() string {
	switch s {
	case NotInitialized:
		return "NotInitialized"
	case Initializing:
		return "Initializing"
	case Tracking:
		return "Tracking"
	case Lost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// Image is one camera frame handed to a tracker.
type Image struct {
	Data     []byte
	MimeType string
	Time     time.Time
	Replay   bool
}

// Criteria are the extraction-quality parameters set before every Track call.
type Criteria struct {
	Iterations int
	Accuracy   float64
}

// Landmarks are parallel sequences of points, normals and confidence weights in the
// tracker frame.
type Landmarks struct {
	Points  []r3.Vector
	Normals []r3.Vector
	Weights []float64
}

// Len returns the number of landmarks.
func (l Landmarks) Len() int {
	return len(l.Points)
}

// Validate checks that the three sequences have equal length.
func (l Landmarks) Validate() error {
	if len(l.Normals) != len(l.Points) || len(l.Weights) != len(l.Points) {
		return errors.Errorf("landmark sequences differ in length: %d points, %d normals, %d weights",
			len(l.Points), len(l.Normals), len(l.Weights))
	}
	return nil
}

// TrackResult is what a tracker returns for one frame.
type TrackResult struct {
	State      TrackingState
	CameraPose transform.Transform
	Landmarks  Landmarks
}

// Correspondence pairs an index into the landmark cloud with an index into the
// target cloud.
type Correspondence struct {
	Query int
	Match int
}

// FusionInput is what a fuser consumes for one frame.
type FusionInput struct {
	Landmarks  Landmarks
	CameraPose transform.Transform
	Map        *mapgrid.View
	Time       time.Time
}

// FusionResult is what a fuser returns for one frame. The deltas are the new
// trajectory points to append.
type FusionResult struct {
	Alignment       transform.Transform
	FusedCamera     transform.Transform
	OffsetCamera    transform.Transform
	FusedDelta      []r3.Vector
	OffsetDelta     []r3.Vector
	Correspondences []Correspondence
}

// Tracker turns camera frames into landmarks and a camera pose.
type Tracker interface {
	Track(ctx context.Context, img Image, criteria Criteria) (TrackResult, error)
	Close() error
}

// Fuser aligns landmarks against the map.
type Fuser interface {
	Fuse(ctx context.Context, in FusionInput) (FusionResult, error)
	Close() error
}
