package mapgrid

import (
	"context"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
)

// Parameters configure how a map is built from its reference cloud.
type Parameters struct {
	// VoxelLeaf is the downsampling voxel edge; non-positive disables downsampling.
	VoxelLeaf float64
	// NormalSearchRadius is the neighborhood radius used for target normals.
	NormalSearchRadius float64
	// CellSize is the edge of a grid cell.
	CellSize float64
}

// Info is the map metadata published with every snapshot.
type Info struct {
	Origin    r3.Vector
	CellSize  float64
	Side      int
	Points    int
	Populated int
	Visible   int
	BuiltAt   time.Time
}

// View is one immutable build of the map: the grid together with the target cloud
// it was built from. Indices into Target stay valid for the life of the View.
type View struct {
	grid    *Grid
	target  []r3.Vector
	normals []r3.Vector
	cloud   pointcloud.PointCloud
	info    Info

	nearestIndex atomic.Pointer[neighborIndex]
}

// Grid returns the statistical grid.
func (v *View) Grid() *Grid { return v.grid }

// Target returns the downsampled reference points. Callers must not modify it.
func (v *View) Target() []r3.Vector { return v.target }

// TargetNormals returns the surface normal of every target point, zero where too
// few neighbors were found. Callers must not modify it.
func (v *View) TargetNormals() []r3.Vector { return v.normals }

// TargetCloud returns the target points as an rdk point cloud for full-map broadcast.
func (v *View) TargetCloud() pointcloud.PointCloud { return v.cloud }

// Info returns the map metadata.
func (v *View) Info() Info { return v.info }

// Nearest returns the index of the target point closest to p within maxDist, the
// lowest index on ties. Queries are served by an index whose bins are maxDist wide,
// built on first use and kept until a query asks for another distance.
func (v *View) Nearest(p r3.Vector, maxDist float64) (int, bool) {
	if !isFinite(p) || maxDist < 0 || math.IsNaN(maxDist) || math.IsInf(maxDist, 0) {
		return -1, false
	}
	size := maxDist
	if size == 0 {
		size = v.info.CellSize
	}
	ni := v.nearestIndex.Load()
	if ni == nil || ni.size != size {
		ni = newNeighborIndex(v.target, size)
		v.nearestIndex.Store(ni)
	}
	return ni.nearest(p, maxDist)
}

// Map owns the current View. Rebuilding swaps in a whole new View, so readers keep
// a consistent View for as long as they hold it.
type Map struct {
	params  Parameters
	logger  logging.Logger
	source  []r3.Vector
	current atomic.Pointer[View]
}

// New builds a map from the reference points. The points are kept as the map's
// source so edits can always be replayed against the unedited reference.
func New(points []r3.Vector, params Parameters, logger logging.Logger) (*Map, error) {
	m := &Map{params: params, logger: logger, source: append([]r3.Vector(nil), points...)}
	if err := m.Rebuild(points); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadPCD reads the reference cloud from a PCD file and builds a map from it.
func LoadPCD(ctx context.Context, path string, params Parameters, logger logging.Logger) (*Map, error) {
	_, span := trace.StartSpan(ctx, "viamvllm::mapgrid::LoadPCD")
	defer span.End()

	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening map file %v", path)
	}
	defer f.Close()

	pc, err := pointcloud.ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading map file %v", path)
	}

	points := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		points = append(points, p)
		return true
	})
	logger.Infow("loaded map point cloud", "path", path, "points", len(points))

	return New(points, params, logger)
}

// Rebuild constructs a new View from points and swaps it in. On error the current
// View is left in place.
func (m *Map) Rebuild(points []r3.Vector) error {
	start := time.Now()
	target := Downsample(points, m.params.VoxelLeaf)

	grid, err := NewGrid(target, m.params.CellSize)
	if err != nil {
		return errors.Wrap(err, "error building map grid")
	}

	cloud := pointcloud.NewWithPrealloc(len(target))
	for _, p := range target {
		if err := cloud.Set(p, pointcloud.NewBasicData()); err != nil {
			return errors.Wrap(err, "error building target cloud")
		}
	}

	normals, _ := EstimateNormals(target, m.params.NormalSearchRadius)

	view := &View{
		grid:    grid,
		target:  target,
		normals: normals,
		cloud:   cloud,
		info: Info{
			Origin:    grid.Origin(),
			CellSize:  grid.CellSize(),
			Side:      grid.Side(),
			Points:    grid.Points(),
			Populated: grid.Populated(),
			Visible:   grid.Visible(),
			BuiltAt:   time.Now().UTC(),
		},
	}
	m.current.Store(view)

	m.logger.Infow("built map grid",
		"input_points", len(points),
		"target_points", len(target),
		"side", grid.Side(),
		"populated_cells", grid.Populated(),
		"visible_cells", grid.Visible(),
		"elapsed", time.Since(start))
	return nil
}

// View returns the current View.
func (m *Map) View() *View {
	return m.current.Load()
}

// Source returns a copy of the reference points the map was first built from.
func (m *Map) Source() []r3.Vector {
	return append([]r3.Vector(nil), m.source...)
}

// Parameters returns the parameters the map was built with.
func (m *Map) Parameters() Parameters {
	return m.params
}
