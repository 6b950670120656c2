package mapgrid

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-modules/viam-vllm/transform"
)

// VisibilityFloor is the point count a cell needs before it is rendered.
const VisibilityFloor = 20

// Index addresses a cell by integer voxel coordinate.
type Index struct {
	I, J, K int
}

// Frame places a cell in the map: the mean of its points and the principal axes of
// their covariance as the columns of a right handed rotation, largest spread first.
type Frame struct {
	Position r3.Vector
	Rotation [3][3]float64
}

// Transform returns the frame as a rigid transform.
func (f Frame) Transform() transform.Transform {
	return transform.New(f.Rotation, f.Position)
}

// Cell is the Gaussian summary of the map points that fall in one voxel.
type Cell struct {
	Count  int
	Frame  Frame
	Spread r3.Vector
}

// Empty reports whether no map point fell in the cell.
func (c Cell) Empty() bool {
	return c.Count == 0
}

// Visible reports whether the cell holds enough points to be rendered.
func (c Cell) Visible() bool {
	return c.Count >= VisibilityFloor
}

// moments accumulates the first and second moments of the points in a cell. Points
// are shifted by the cell corner first to keep the second moments well conditioned.
type moments struct {
	n                      int
	sum                    r3.Vector
	xx, xy, xz, yy, yz, zz float64
}

func (m *moments) add(p r3.Vector) {
	m.n++
	m.sum = m.sum.Add(p)
	m.xx += p.X * p.X
	m.xy += p.X * p.Y
	m.xz += p.X * p.Z
	m.yy += p.Y * p.Y
	m.yz += p.Y * p.Z
	m.zz += p.Z * p.Z
}

// covariance returns the mean and the population covariance of the accumulated points.
func (m *moments) covariance() (r3.Vector, *mat.SymDense) {
	nf := float64(m.n)
	mean := m.sum.Mul(1 / nf)
	return mean, mat.NewSymDense(3, []float64{
		m.xx/nf - mean.X*mean.X, m.xy/nf - mean.X*mean.Y, m.xz/nf - mean.X*mean.Z,
		m.xy/nf - mean.X*mean.Y, m.yy/nf - mean.Y*mean.Y, m.yz/nf - mean.Y*mean.Z,
		m.xz/nf - mean.X*mean.Z, m.yz/nf - mean.Y*mean.Z, m.zz/nf - mean.Z*mean.Z,
	})
}

// cell turns the accumulated moments into a Cell placed relative to corner.
func (m *moments) cell(corner r3.Vector) Cell {
	mean, cov := m.covariance()
	rotation, spread := principalAxes(cov)
	return Cell{
		Count:  m.n,
		Frame:  Frame{Position: corner.Add(mean), Rotation: rotation},
		Spread: spread,
	}
}

var identityRotation = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// principalAxes returns the eigenvectors of cov as rotation columns ordered by
// decreasing eigenvalue, and the square roots of those eigenvalues. Negative
// eigenvalues from rounding are treated as zero.
func principalAxes(cov *mat.SymDense) ([3][3]float64, r3.Vector) {
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return identityRotation, r3.Vector{}
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// gonum returns ascending eigenvalues
	axes := [3]r3.Vector{}
	var spread [3]float64
	for col := 0; col < 3; col++ {
		src := 2 - col
		axes[col] = r3.Vector{X: vectors.At(0, src), Y: vectors.At(1, src), Z: vectors.At(2, src)}
		spread[col] = math.Sqrt(math.Max(values[src], 0))
	}
	axes[2] = axes[0].Cross(axes[1])

	var rotation [3][3]float64
	for col, axis := range axes {
		rotation[0][col] = axis.X
		rotation[1][col] = axis.Y
		rotation[2][col] = axis.Z
	}
	return rotation, r3.Vector{X: spread[0], Y: spread[1], Z: spread[2]}
}
