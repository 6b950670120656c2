// Package snapshot turns one cycle of engine output into a Publication in the map frame.
package snapshot

import (
	"slices"
	"time"

	"github.com/golang/geo/r3"

	"github.com/viam-modules/viam-vllm/engine"
	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/publisher"
)

// Input is everything one cycle contributes to a Publication.
type Input struct {
	Sequence     uint64
	Time         time.Time
	State        engine.TrackingState
	Accuracy     float64
	Landmarks    engine.Landmarks
	Fusion       engine.FusionResult
	Map          mapgrid.Info
	MapBroadcast bool
}

// Trajectories are the fused and offset camera histories. They are owned by the
// cycle driver and only ever grow.
type Trajectories struct {
	Fused  []r3.Vector
	Offset []r3.Vector
}

// Len returns the number of fused positions.
func (t Trajectories) Len() int {
	return len(t.Fused)
}

// Build normalizes the camera poses, moves the landmark cloud and normals into the
// map frame, appends the trajectory deltas to history and assembles the
// Publication. The Publication shares no memory with in or history.
func Build(in Input, history Trajectories) (publisher.Publication, Trajectories) {
	history = Trajectories{
		Fused:  append(history.Fused, in.Fusion.FusedDelta...),
		Offset: append(history.Offset, in.Fusion.OffsetDelta...),
	}

	alignment := in.Fusion.Alignment
	pub := publisher.Publication{
		Sequence:         in.Sequence,
		Time:             in.Time,
		State:            in.State,
		Accuracy:         in.Accuracy,
		FusedCamera:      in.Fusion.FusedCamera.Normalize(),
		OffsetCamera:     in.Fusion.OffsetCamera.Normalize(),
		Cloud:            alignment.ApplyAll(in.Landmarks.Points),
		Normals:          alignment.ApplyNormals(in.Landmarks.Normals),
		FusedTrajectory:  slices.Clone(history.Fused),
		OffsetTrajectory: slices.Clone(history.Offset),
		Correspondences:  slices.Clone(in.Fusion.Correspondences),
		Map:              in.Map,
		MapBroadcast:     in.MapBroadcast,
	}
	return pub, history
}
