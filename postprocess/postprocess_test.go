package postprocess

import (
	"fmt"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

type TestCase struct {
	msg string
	cmd interface{}
	err error
}

func TestParseDoCommand(t *testing.T) {
	for _, tc := range []TestCase{
		{
			msg: "errors if unstructuredPoints is not a slice",
			cmd: "hello",
			err: ErrPointsNotASlice,
		},
		{
			msg: "errors if unstructuredPoints is not a slice of maps",
			cmd: []interface{}{1},
			err: ErrPointNotAMap,
		},
		{
			msg: "errors if unstructuredPoints contains a point where X is not provided",
			cmd: []interface{}{map[string]interface{}{"Y": float64(2)}},
			err: ErrXNotProvided,
		},
		{
			msg: "errors if unstructuredPoints contains a point where X is not float64",
			cmd: []interface{}{map[string]interface{}{"X": 1, "Y": float64(2)}},
			err: ErrXNotFloat64,
		},
		{
			msg: "errors if unstructuredPoints contains a point where Y is not provided",
			cmd: []interface{}{map[string]interface{}{"X": float64(1)}},
			err: ErrYNotProvided,
		},
		{
			msg: "errors if unstructuredPoints contains a point where Y is not float64",
			cmd: []interface{}{map[string]interface{}{"X": float64(1), "Y": 2}},
			err: ErrYNotFloat64,
		},
		{
			msg: "errors if unstructuredPoints contains a point where Z is not float64",
			cmd: []interface{}{map[string]interface{}{"X": float64(1), "Y": float64(2), "Z": "3"}},
			err: ErrZNotFloat64,
		},
	} {
		t.Run(fmt.Sprintf("%s for Add task", tc.msg), func(t *testing.T) {
			task, err := ParseDoCommand(tc.cmd, Add)
			test.That(t, err, test.ShouldBeError, tc.err)
			test.That(t, task, test.ShouldResemble, Task{})
		})

		t.Run(fmt.Sprintf("%s for Remove task", tc.msg), func(t *testing.T) {
			task, err := ParseDoCommand(tc.cmd, Remove)
			test.That(t, err, test.ShouldBeError, tc.err)
			test.That(t, task, test.ShouldResemble, Task{})
		})
	}

	t.Run("succeeds if unstructuredPoints is a slice of maps with float64 values", func(t *testing.T) {
		task, err := ParseDoCommand([]interface{}{
			map[string]interface{}{"X": float64(1), "Y": float64(2)},
			map[string]interface{}{"X": float64(3), "Y": float64(4), "Z": float64(5)},
		}, Add)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, task, test.ShouldResemble, Task{
			Instruction: Add,
			Points:      []r3.Vector{{X: 1, Y: 2}, {X: 3, Y: 4, Z: 5}},
		})
	})
}

func TestApply(t *testing.T) {
	original := []r3.Vector{
		{X: 0, Y: 0},
		{X: 1000, Y: 1000, Z: 500},
		{X: 2000, Y: 2000},
		{X: 2020, Y: 2020, Z: 1500},
		{X: 3000, Y: 3000},
	}

	t.Run("removal clears the column around each removed point", func(t *testing.T) {
		updated := Apply(original, []Task{{Instruction: Remove, Points: []r3.Vector{{X: 2000, Y: 2000}, {X: 3000, Y: 3000}}}})
		test.That(t, updated, test.ShouldResemble, []r3.Vector{{X: 0, Y: 0}, {X: 1000, Y: 1000, Z: 500}})
	})

	t.Run("tasks run in order", func(t *testing.T) {
		tasks := []Task{
			{Instruction: Add, Points: []r3.Vector{{X: 4000, Y: 4000}, {X: 5000, Y: 5000}}},
			{Instruction: Remove, Points: []r3.Vector{{X: 2000, Y: 2000}, {X: 4000, Y: 4000}}},
		}
		updated := Apply(original, tasks)
		test.That(t, updated, test.ShouldResemble, []r3.Vector{
			{X: 0, Y: 0},
			{X: 1000, Y: 1000, Z: 500},
			{X: 3000, Y: 3000},
			{X: 5000, Y: 5000},
		})
	})

	t.Run("the input is left untouched", func(t *testing.T) {
		before := append([]r3.Vector(nil), original...)
		Apply(original, []Task{{Instruction: Remove, Points: []r3.Vector{{}}}})
		test.That(t, original, test.ShouldResemble, before)
	})

	t.Run("no tasks returns a copy", func(t *testing.T) {
		updated := Apply(original, nil)
		test.That(t, updated, test.ShouldResemble, original)
		updated[0] = r3.Vector{X: 42}
		test.That(t, original[0], test.ShouldResemble, r3.Vector{})
	})
}
