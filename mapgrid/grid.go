// Package mapgrid implements the statistical map: a fixed cubic grid of per-voxel
// Gaussian summaries built from the reference point cloud.
package mapgrid

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MaxSide bounds the side of the cubic grid so the cell arena stays allocatable.
const MaxSide = 128

var (
	// ErrOutOfRange denotes a lookup outside the extent of the grid.
	ErrOutOfRange = errors.New("coordinate is outside the map grid")
	// ErrEmptyCloud denotes that no finite point was available to build the grid.
	ErrEmptyCloud = errors.New("cannot build a map grid from an empty point cloud")
)

// Grid is a cubic array of cells indexed by integer voxel coordinate. The side,
// origin, and cell size are fixed at construction and the cells are never written
// after it, so a Grid may be read from any number of goroutines.
type Grid struct {
	side     int
	cellSize float64
	origin   r3.Vector
	cells    []Cell

	points    int
	populated int
	visible   int
}

// NewGrid partitions points into cells of edge cellSize. The origin is the minimum
// corner of the points and the side is the smallest that covers every axis.
// Non-finite points are skipped.
func NewGrid(points []r3.Vector, cellSize float64) (*Grid, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return nil, errors.Errorf("cell size must be positive, got %v", cellSize)
	}

	finite := make([]r3.Vector, 0, len(points))
	for _, p := range points {
		if isFinite(p) {
			finite = append(finite, p)
		}
	}
	if len(finite) == 0 {
		return nil, ErrEmptyCloud
	}

	lo, hi := bounds(finite)
	span := math.Max(hi.X-lo.X, math.Max(hi.Y-lo.Y, hi.Z-lo.Z))
	if span/cellSize >= MaxSide {
		return nil, errors.Errorf("map extent %.3f with cell size %.3f needs more than %d cells per side",
			span, cellSize, MaxSide)
	}

	g := &Grid{cellSize: cellSize, origin: lo}
	g.side = max(g.coord(hi.X, lo.X), g.coord(hi.Y, lo.Y), g.coord(hi.Z, lo.Z)) + 1
	g.cells = make([]Cell, g.side*g.side*g.side)

	acc := make(map[int]*moments)
	for _, p := range finite {
		idx, ok := g.IndexOf(p)
		if !ok {
			// unreachable: the origin and side cover every finite point
			continue
		}
		offset := g.offset(idx)
		m, ok := acc[offset]
		if !ok {
			m = &moments{}
			acc[offset] = m
		}
		m.add(p.Sub(g.corner(idx)))
	}

	for offset, m := range acc {
		c := m.cell(g.corner(g.indexOfOffset(offset)))
		g.cells[offset] = c
		g.points += c.Count
		g.populated++
		if c.Visible() {
			g.visible++
		}
	}
	return g, nil
}

// Side returns the number of cells along each axis.
func (g *Grid) Side() int { return g.side }

// CellSize returns the edge length of a cell.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Origin returns the minimum corner of the grid.
func (g *Grid) Origin() r3.Vector { return g.origin }

// Points returns the number of points the grid was built from.
func (g *Grid) Points() int { return g.points }

// Populated returns the number of non-empty cells.
func (g *Grid) Populated() int { return g.populated }

// Visible returns the number of cells at or above the visibility floor.
func (g *Grid) Visible() int { return g.visible }

// IndexOf maps a map-frame coordinate to its cell index.
func (g *Grid) IndexOf(p r3.Vector) (Index, bool) {
	if !isFinite(p) {
		return Index{}, false
	}
	// compare in float space first so far away coordinates cannot overflow int
	for _, rel := range []float64{p.X - g.origin.X, p.Y - g.origin.Y, p.Z - g.origin.Z} {
		if rel < 0 || rel/g.cellSize >= float64(g.side) {
			return Index{}, false
		}
	}
	idx := Index{
		I: g.coord(p.X, g.origin.X),
		J: g.coord(p.Y, g.origin.Y),
		K: g.coord(p.Z, g.origin.Z),
	}
	return idx, g.contains(idx)
}

// At returns the cell at idx. Empty cells are returned with a zero Count.
func (g *Grid) At(idx Index) (Cell, error) {
	if !g.contains(idx) {
		return Cell{}, ErrOutOfRange
	}
	return g.cells[g.offset(idx)], nil
}

// Lookup returns the cell containing the map-frame coordinate p.
func (g *Grid) Lookup(p r3.Vector) (Cell, error) {
	idx, ok := g.IndexOf(p)
	if !ok {
		return Cell{}, ErrOutOfRange
	}
	return g.cells[g.offset(idx)], nil
}

// Iterate calls fn for every non-empty cell in index order until fn returns false.
func (g *Grid) Iterate(fn func(idx Index, c Cell) bool) {
	for offset, c := range g.cells {
		if c.Empty() {
			continue
		}
		if !fn(g.indexOfOffset(offset), c) {
			return
		}
	}
}

// IterateVisible calls fn for every cell at or above the visibility floor until fn
// returns false.
func (g *Grid) IterateVisible(fn func(idx Index, c Cell) bool) {
	g.Iterate(func(idx Index, c Cell) bool {
		if !c.Visible() {
			return true
		}
		return fn(idx, c)
	})
}

// IndexedCell pairs a cell with its index.
type IndexedCell struct {
	Index Index
	Cell  Cell
}

// VisibleCells returns a copy of every cell at or above the visibility floor.
func (g *Grid) VisibleCells() []IndexedCell {
	out := make([]IndexedCell, 0, g.visible)
	g.IterateVisible(func(idx Index, c Cell) bool {
		out = append(out, IndexedCell{Index: idx, Cell: c})
		return true
	})
	return out
}

func (g *Grid) coord(v, origin float64) int {
	return int(math.Floor((v - origin) / g.cellSize))
}

func (g *Grid) contains(idx Index) bool {
	return idx.I >= 0 && idx.I < g.side &&
		idx.J >= 0 && idx.J < g.side &&
		idx.K >= 0 && idx.K < g.side
}

func (g *Grid) offset(idx Index) int {
	return (idx.I*g.side+idx.J)*g.side + idx.K
}

func (g *Grid) indexOfOffset(offset int) Index {
	return Index{
		I: offset / (g.side * g.side),
		J: (offset / g.side) % g.side,
		K: offset % g.side,
	}
}

func (g *Grid) corner(idx Index) r3.Vector {
	return g.origin.Add(r3.Vector{X: float64(idx.I), Y: float64(idx.J), Z: float64(idx.K)}.Mul(g.cellSize))
}

func bounds(points []r3.Vector) (r3.Vector, r3.Vector) {
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}

func isFinite(p r3.Vector) bool {
	for _, c := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
