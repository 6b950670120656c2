// Package postprocess contains functionality to edit the reference map the camera is
// localized in.
package postprocess

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
)

// Instruction describes the action of the postprocess step.
type Instruction int

const (
	// Add is the instruction for adding points.
	Add Instruction = iota
	// Remove is the instruction for removing points.
	Remove
)

const (
	// RemovalRadius is the horizontal distance within which Remove drops map points, in mm.
	RemovalRadius = 100
	xKey          = "X"
	yKey          = "Y"
	zKey          = "Z"

	// ToggleCommand can be used to turn postprocessing on and off.
	ToggleCommand = "postprocess_toggle"
	// AddCommand can be used to add points to the map.
	AddCommand = "postprocess_add"
	// RemoveCommand can be used to remove points from the map.
	RemoveCommand = "postprocess_remove"
	// UndoCommand can be used to undo last postprocessing step.
	UndoCommand = "postprocess_undo"
)

var (
	// ErrPointsNotASlice denotes that the points have not been properly formatted as a slice.
	ErrPointsNotASlice = errors.New("could not parse provided points as a slice")

	// ErrPointNotAMap denotes that a point has not been properly formatted as a map.
	ErrPointNotAMap = errors.New("could not parse provided point as a map")

	// ErrXNotProvided denotes that an X value was not provided.
	ErrXNotProvided = errors.New("X not provided")

	// ErrXNotFloat64 denotes that an X value is not a float64.
	ErrXNotFloat64 = errors.New("could not parse provided X as a float64")

	// ErrYNotProvided denotes that a Y value was not provided.
	ErrYNotProvided = errors.New("Y not provided")

	// ErrYNotFloat64 denotes that an Y value is not a float64.
	ErrYNotFloat64 = errors.New("could not parse provided Y as a float64")

	// ErrZNotFloat64 denotes that a Z value was given but is not a float64.
	ErrZNotFloat64 = errors.New("could not parse provided Z as a float64")

	// ErrNothingToUndo denotes an undo with no postprocessing step applied.
	ErrNothingToUndo = errors.New("no postprocessing step to undo")
)

// Task can be used to construct a postprocessing step.
type Task struct {
	Instruction Instruction
	Points      []r3.Vector
}

// ParseDoCommand parses postprocessing DoCommands into Tasks. Z is optional and
// defaults to zero.
func ParseDoCommand(
	unstructuredPoints interface{},
	instruction Instruction,
) (Task, error) {
	pointSlice, ok := unstructuredPoints.([]interface{})
	if !ok {
		return Task{}, ErrPointsNotASlice
	}

	task := Task{Instruction: instruction}
	for _, point := range pointSlice {
		pointMap, ok := point.(map[string]interface{})
		if !ok {
			return Task{}, ErrPointNotAMap
		}

		x, ok := pointMap[xKey]
		if !ok {
			return Task{}, ErrXNotProvided
		}
		xFloat, ok := x.(float64)
		if !ok {
			return Task{}, ErrXNotFloat64
		}

		y, ok := pointMap[yKey]
		if !ok {
			return Task{}, ErrYNotProvided
		}
		yFloat, ok := y.(float64)
		if !ok {
			return Task{}, ErrYNotFloat64
		}

		var zFloat float64
		if z, ok := pointMap[zKey]; ok {
			if zFloat, ok = z.(float64); !ok {
				return Task{}, ErrZNotFloat64
			}
		}

		task.Points = append(task.Points, r3.Vector{X: xFloat, Y: yFloat, Z: zFloat})
	}
	return task, nil
}

// Apply runs tasks over points in order and returns the edited points. points is not
// modified.
func Apply(points []r3.Vector, tasks []Task) []r3.Vector {
	updated := append([]r3.Vector(nil), points...)
	for _, task := range tasks {
		switch task.Instruction {
		case Add:
			updated = append(updated, task.Points...)
		case Remove:
			updated = removePoints(updated, task.Points)
		}
	}
	return updated
}

// removePoints drops every point within RemovalRadius of a removed point in the XY
// plane, so a removal clears the whole column above and below it.
func removePoints(points, removed []r3.Vector) []r3.Vector {
	kept := points[:0]
	for _, p := range points {
		drop := false
		for _, r := range removed {
			if math.Hypot(p.X-r.X, p.Y-r.Y) <= RemovalRadius {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, p)
		}
	}
	return kept
}
