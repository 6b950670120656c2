package mapgrid

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func planarPoints(n int) []r3.Vector {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = r3.Vector{X: float64(i%40) * 0.02, Y: float64(i/40) * 0.035}
	}
	return points
}

func cluster(center r3.Vector, n int, radius float64, rng *rand.Rand) []r3.Vector {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = center.Add(r3.Vector{
			X: (rng.Float64()*2 - 1) * radius,
			Y: (rng.Float64()*2 - 1) * radius,
			Z: (rng.Float64()*2 - 1) * radius,
		})
	}
	return points
}

// block returns n points spread inside the unit cell whose minimum corner is corner,
// starting at the corner itself.
func block(corner r3.Vector, n int) []r3.Vector {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = corner.Add(r3.Vector{X: float64(i%3) * 0.1, Y: float64((i/3)%3) * 0.1, Z: float64(i/9) * 0.1})
	}
	return points
}

func TestNewGridErrors(t *testing.T) {
	_, err := NewGrid(nil, 1)
	test.That(t, err, test.ShouldBeError, ErrEmptyCloud)

	_, err = NewGrid([]r3.Vector{{X: math.NaN()}, {Y: math.Inf(1)}}, 1)
	test.That(t, err, test.ShouldBeError, ErrEmptyCloud)

	_, err = NewGrid(planarPoints(10), 0)
	test.That(t, err, test.ShouldBeError, "cell size must be positive, got 0")

	_, err = NewGrid([]r3.Vector{{}, {X: 1000}}, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cells per side")
}

func TestGridCountsEveryPointOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	points := make([]r3.Vector, 0, 5000)
	for i := 0; i < 5000; i++ {
		points = append(points, r3.Vector{X: rng.Float64() * 9.7, Y: rng.Float64() * 3.3, Z: rng.Float64()*5.1 - 2})
	}

	for _, cellSize := range []float64{0.25, 1, 2.5} {
		grid, err := NewGrid(points, cellSize)
		test.That(t, err, test.ShouldBeNil)

		total := 0
		grid.Iterate(func(idx Index, c Cell) bool {
			total += c.Count
			return true
		})
		test.That(t, total, test.ShouldEqual, len(points))
		test.That(t, grid.Points(), test.ShouldEqual, len(points))

		// every point resolves to exactly one populated cell
		for _, p := range points {
			idx, ok := grid.IndexOf(p)
			test.That(t, ok, test.ShouldBeTrue)
			c, err := grid.At(idx)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, c.Empty(), test.ShouldBeFalse)
		}
	}
}

func TestGridCountsDownsampledPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	points := cluster(r3.Vector{X: 2, Y: 2, Z: 2}, 3000, 1.5, rng)
	down := Downsample(points, 0.3)
	test.That(t, len(down), test.ShouldBeLessThan, len(points))

	grid, err := NewGrid(down, 1)
	test.That(t, err, test.ShouldBeNil)
	total := 0
	grid.Iterate(func(_ Index, c Cell) bool {
		total += c.Count
		return true
	})
	test.That(t, total, test.ShouldEqual, len(down))
}

func TestGridVisibility(t *testing.T) {
	points := block(r3.Vector{}, 25)
	points = append(points, block(r3.Vector{X: 2}, 5)...)
	points = append(points, block(r3.Vector{X: 2, Y: 2}, VisibilityFloor)...)

	grid, err := NewGrid(points, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Populated(), test.ShouldEqual, 3)
	test.That(t, grid.Visible(), test.ShouldEqual, 2)

	var all []int
	grid.Iterate(func(_ Index, c Cell) bool {
		all = append(all, c.Count)
		return true
	})
	test.That(t, all, test.ShouldHaveLength, 3)
	test.That(t, all, test.ShouldContain, 5)

	visible := grid.VisibleCells()
	test.That(t, visible, test.ShouldHaveLength, 2)
	for _, vc := range visible {
		test.That(t, vc.Cell.Count, test.ShouldBeGreaterThanOrEqualTo, VisibilityFloor)
		test.That(t, vc.Cell.Visible(), test.ShouldBeTrue)
	}

	sparse, err := grid.Lookup(r3.Vector{X: 2.5, Y: 0.5, Z: 0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sparse.Count, test.ShouldEqual, 5)
	test.That(t, sparse.Visible(), test.ShouldBeFalse)

	empty, err := grid.Lookup(r3.Vector{X: 0.5, Y: 2.5, Z: 0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Empty(), test.ShouldBeTrue)
	test.That(t, empty, test.ShouldResemble, Cell{})

	t.Run("iteration stops when the callback returns false", func(t *testing.T) {
		calls := 0
		grid.Iterate(func(Index, Cell) bool {
			calls++
			return false
		})
		test.That(t, calls, test.ShouldEqual, 1)
	})
}

func TestGridLookupOutOfRange(t *testing.T) {
	grid, err := NewGrid([]r3.Vector{{}, {X: 2.5, Y: 2.5, Z: 2.5}}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Side(), test.ShouldEqual, 3)

	for _, p := range []r3.Vector{
		{X: -0.001},
		{X: 3},
		{Y: 100},
		{Z: -1e300},
		{X: 1e300},
		{X: math.NaN()},
		{Y: math.Inf(-1)},
	} {
		_, err := grid.Lookup(p)
		test.That(t, err, test.ShouldBeError, ErrOutOfRange)
	}

	_, err = grid.At(Index{I: 3})
	test.That(t, err, test.ShouldBeError, ErrOutOfRange)
	_, err = grid.At(Index{J: -1})
	test.That(t, err, test.ShouldBeError, ErrOutOfRange)

	c, err := grid.At(Index{I: 2, J: 2, K: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Count, test.ShouldEqual, 1)
	test.That(t, c.Frame.Position, test.ShouldResemble, r3.Vector{X: 2.5, Y: 2.5, Z: 2.5})
}

func TestGridPlanarCell(t *testing.T) {
	grid, err := NewGrid(planarPoints(1000), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Side(), test.ShouldEqual, 1)
	test.That(t, grid.Populated(), test.ShouldEqual, 1)

	c, err := grid.At(Index{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Count, test.ShouldEqual, 1000)
	test.That(t, c.Spread.X, test.ShouldBeGreaterThan, 0)
	test.That(t, c.Spread.Y, test.ShouldBeGreaterThan, 0)
	test.That(t, c.Spread.Z, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, c.Spread.X, test.ShouldBeGreaterThanOrEqualTo, c.Spread.Y)

	// the least spread axis is the plane normal
	normal := r3.Vector{X: c.Frame.Rotation[0][2], Y: c.Frame.Rotation[1][2], Z: c.Frame.Rotation[2][2]}
	test.That(t, math.Abs(normal.Z), test.ShouldAlmostEqual, 1, 1e-6)

	// the degenerate frame is still a proper rotation, so it can be drawn
	pose := c.Frame.Transform().ToPose()
	test.That(t, math.IsNaN(pose.Point().X), test.ShouldBeFalse)
	test.That(t, pose.Point().Z, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestGridSinglePointCell(t *testing.T) {
	grid, err := NewGrid([]r3.Vector{{X: 1, Y: 1, Z: 1}}, 0.5)
	test.That(t, err, test.ShouldBeNil)
	c, err := grid.Lookup(r3.Vector{X: 1, Y: 1, Z: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Count, test.ShouldEqual, 1)
	test.That(t, c.Spread, test.ShouldResemble, r3.Vector{})
	test.That(t, c.Frame.Position, test.ShouldResemble, r3.Vector{X: 1, Y: 1, Z: 1})
}

func TestDownsample(t *testing.T) {
	t.Run("replaces every voxel by its centroid", func(t *testing.T) {
		points := []r3.Vector{
			{X: 0.1, Y: 0.1, Z: 0.1},
			{X: 0.3, Y: 0.3, Z: 0.3},
			{X: 1.2, Y: 0.1, Z: 0.1},
			{X: -0.2, Y: 0.1, Z: 0.1},
			{X: math.NaN()},
		}
		down := Downsample(points, 1)
		test.That(t, down, test.ShouldHaveLength, 3)
		test.That(t, down[0], test.ShouldResemble, r3.Vector{X: -0.2, Y: 0.1, Z: 0.1})
		test.That(t, down[1].X, test.ShouldAlmostEqual, 0.2, 1e-12)
		test.That(t, down[2], test.ShouldResemble, r3.Vector{X: 1.2, Y: 0.1, Z: 0.1})
	})

	t.Run("non-positive leaf only drops non-finite points", func(t *testing.T) {
		points := []r3.Vector{{X: 1}, {Y: math.Inf(1)}, {Z: 2}}
		down := Downsample(points, 0)
		test.That(t, down, test.ShouldResemble, []r3.Vector{{X: 1}, {Z: 2}})
	})
}
