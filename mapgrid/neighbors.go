package mapgrid

import (
	"math"
	"runtime"
	"sync"

	"github.com/golang/geo/r3"
)

// minNormalNeighbors is the fewest neighbors a point needs for a surface normal.
const minNormalNeighbors = 3

// neighborIndex is a spatial hash over a fixed set of points with bins of edge size.
// Queries walk every bin the radius reaches, so they are exact for any radius and
// cheapest when the radius is the bin size.
type neighborIndex struct {
	size   float64
	points []r3.Vector
	bins   map[voxelKey][]int
}

func newNeighborIndex(points []r3.Vector, size float64) *neighborIndex {
	ni := &neighborIndex{size: size, points: points, bins: make(map[voxelKey][]int)}
	for i, p := range points {
		k := ni.key(p)
		ni.bins[k] = append(ni.bins[k], i)
	}
	return ni
}

func (ni *neighborIndex) key(p r3.Vector) voxelKey {
	return voxelKey{
		int64(math.Floor(p.X / ni.size)),
		int64(math.Floor(p.Y / ni.size)),
		int64(math.Floor(p.Z / ni.size)),
	}
}

// within calls fn with the index of every point no further than radius from p.
func (ni *neighborIndex) within(p r3.Vector, radius float64, fn func(i int, distSq float64)) {
	if !isFinite(p) || radius < 0 {
		return
	}
	reach := int64(math.Ceil(radius / ni.size))
	center := ni.key(p)
	radiusSq := radius * radius
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for dz := -reach; dz <= reach; dz++ {
				bin := ni.bins[voxelKey{center[0] + dx, center[1] + dy, center[2] + dz}]
				for _, i := range bin {
					d := ni.points[i].Sub(p)
					if distSq := d.Dot(d); distSq <= radiusSq {
						fn(i, distSq)
					}
				}
			}
		}
	}
}

// nearest returns the closest point to p within maxDist.
func (ni *neighborIndex) nearest(p r3.Vector, maxDist float64) (int, bool) {
	best, bestSq := -1, math.Inf(1)
	ni.within(p, maxDist, func(i int, distSq float64) {
		if distSq < bestSq || (distSq == bestSq && i < best) {
			best, bestSq = i, distSq
		}
	})
	return best, best >= 0
}

// EstimateNormals fits a plane to the neighbors within radius of every point. It
// returns the unit plane normals oriented toward the sensor origin and a planarity
// score in [0, 1] per point. Points with too few neighbors get a zero normal and a
// zero score.
func EstimateNormals(points []r3.Vector, radius float64) ([]r3.Vector, []float64) {
	if radius <= 0 {
		return make([]r3.Vector, len(points)), make([]float64, len(points))
	}
	return estimateNormals(newNeighborIndex(points, radius), radius)
}

func estimateNormals(ni *neighborIndex, radius float64) ([]r3.Vector, []float64) {
	normals := make([]r3.Vector, len(ni.points))
	planarity := make([]float64, len(ni.points))
	if radius <= 0 || len(ni.points) == 0 {
		return normals, planarity
	}

	workers := min(runtime.NumCPU(), len(ni.points))
	chunk := (len(ni.points) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(ni.points); start += chunk {
		end := min(start+chunk, len(ni.points))
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				normals[i], planarity[i] = ni.normalAt(ni.points[i], radius)
			}
		}(start, end)
	}
	wg.Wait()
	return normals, planarity
}

// normalAt returns the plane normal at p and how planar its neighborhood is,
// (l2 - l3) / l1 over the covariance eigenvalues l1 >= l2 >= l3.
func (ni *neighborIndex) normalAt(p r3.Vector, radius float64) (r3.Vector, float64) {
	var m moments
	ni.within(p, radius, func(i int, _ float64) {
		m.add(ni.points[i].Sub(p))
	})
	if m.n < minNormalNeighbors {
		return r3.Vector{}, 0
	}
	_, cov := m.covariance()
	rotation, spread := principalAxes(cov)
	n := r3.Vector{X: rotation[0][2], Y: rotation[1][2], Z: rotation[2][2]}
	// flip toward the viewpoint at the map origin
	if n.Dot(p) > 0 {
		n = n.Mul(-1)
	}
	var score float64
	if l1 := spread.X * spread.X; l1 > 0 {
		score = (spread.Y*spread.Y - spread.Z*spread.Z) / l1
	}
	return n, score
}
