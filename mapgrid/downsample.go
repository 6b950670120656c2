package mapgrid

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

type voxelKey [3]int64

// Downsample replaces the points in every leaf sized voxel by their centroid. A
// non-positive leaf only drops non-finite points. The output is ordered by voxel
// key so the same cloud always downsamples to the same sequence.
func Downsample(points []r3.Vector, leaf float64) []r3.Vector {
	if leaf <= 0 || math.IsNaN(leaf) || math.IsInf(leaf, 0) {
		out := make([]r3.Vector, 0, len(points))
		for _, p := range points {
			if isFinite(p) {
				out = append(out, p)
			}
		}
		return out
	}

	type centroid struct {
		sum r3.Vector
		n   int
	}
	voxels := make(map[voxelKey]*centroid)
	for _, p := range points {
		if !isFinite(p) {
			continue
		}
		key := voxelKey{
			int64(math.Floor(p.X / leaf)),
			int64(math.Floor(p.Y / leaf)),
			int64(math.Floor(p.Z / leaf)),
		}
		c, ok := voxels[key]
		if !ok {
			c = &centroid{}
			voxels[key] = c
		}
		c.sum = c.sum.Add(p)
		c.n++
	}

	keys := make([]voxelKey, 0, len(voxels))
	for k := range voxels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})

	out := make([]r3.Vector, len(keys))
	for i, k := range keys {
		c := voxels[k]
		out[i] = c.sum.Mul(1 / float64(c.n))
	}
	return out
}
