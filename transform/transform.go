// Package transform implements the 4x4 homogeneous transforms exchanged with the
// tracking and fusion engines, along with the pose normalization applied before
// poses are published.
package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// degenerateEpsilon is the largest singular value below which a linear block is
// treated as having no usable rotation.
const degenerateEpsilon = 1e-12

// ErrSingular denotes that a transform has no inverse.
var ErrSingular = errors.New("transform is singular")

// Transform is a row-major homogeneous transform. The upper left 3x3 block may
// carry a uniform scale in addition to a rotation.
type Transform [4][4]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// New builds a transform from a linear block and a translation.
func New(linear [3][3]float64, translation r3.Vector) Transform {
	t := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = linear[i][j]
		}
	}
	t[0][3], t[1][3], t[2][3] = translation.X, translation.Y, translation.Z
	return t
}

// Translation returns the translation column.
func (t Transform) Translation() r3.Vector {
	return r3.Vector{X: t[0][3], Y: t[1][3], Z: t[2][3]}
}

// Linear returns the upper left 3x3 block.
func (t Transform) Linear() [3][3]float64 {
	var l [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			l[i][j] = t[i][j]
		}
	}
	return l
}

// Mul returns t * o, so o is applied first.
func (t Transform) Mul(o Transform) Transform {
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += t[i][k] * o[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// Apply transforms a position.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3],
		Z: t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3],
	}
}

// ApplyAll transforms every position into a newly allocated slice.
func (t Transform) ApplyAll(points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// ApplyNormals transforms direction vectors by the inverse-transpose of the linear
// block and rescales each non-zero result to unit length. When the linear block
// cannot be inverted the rotation of the normalized transform is used instead.
func (t Transform) ApplyNormals(normals []r3.Vector) []r3.Vector {
	n, err := t.NormalMatrix()
	if err != nil {
		n = t.Normalize().Linear()
	}
	out := make([]r3.Vector, len(normals))
	for i, v := range normals {
		r := r3.Vector{
			X: n[0][0]*v.X + n[0][1]*v.Y + n[0][2]*v.Z,
			Y: n[1][0]*v.X + n[1][1]*v.Y + n[1][2]*v.Z,
			Z: n[2][0]*v.X + n[2][1]*v.Y + n[2][2]*v.Z,
		}
		if norm := r.Norm(); norm > 0 {
			r = r.Mul(1 / norm)
		}
		out[i] = r
	}
	return out
}

// NormalMatrix returns the inverse-transpose of the linear block.
func (t Transform) NormalMatrix() ([3][3]float64, error) {
	var inv mat.Dense
	if err := inv.Inverse(denseOf(t.Linear())); err != nil {
		return [3][3]float64{}, errors.Wrap(ErrSingular, err.Error())
	}
	var n [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			n[i][j] = inv.At(j, i)
		}
	}
	return n, nil
}

// Inverse returns the inverse transform.
func (t Transform) Inverse() (Transform, error) {
	full := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			full.Set(i, j, t[i][j])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(full); err != nil {
		return Identity(), errors.Wrap(ErrSingular, err.Error())
	}
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// IsFinite reports whether every entry is a finite number.
func (t Transform) IsFinite() bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(t[i][j]) || math.IsInf(t[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// Normalize returns the closest rigid motion to t: the linear block is replaced by
// the orthonormal factor of its polar decomposition, which drops any scale, and the
// bottom row is reset. A non-finite or vanishing linear block becomes the identity
// rotation; a non-finite translation becomes zero.
func (t Transform) Normalize() Transform {
	out := Identity()
	if tr := t.Translation(); isFiniteVector(tr) {
		out[0][3], out[1][3], out[2][3] = tr.X, tr.Y, tr.Z
	}
	linear := t.Linear()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(linear[i][j]) || math.IsInf(linear[i][j], 0) {
				return out
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(denseOf(linear), mat.SVDFull) {
		return out
	}
	if values := svd.Values(nil); values[0] < degenerateEpsilon {
		return out
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out
}

// Quaternion returns the rotation of the normalized transform as a unit quaternion.
func (t Transform) Quaternion() *spatialmath.Quaternion {
	return RotationToQuaternion(t.Normalize().Linear())
}

// ToPose converts the normalized transform into an rdk pose.
func (t Transform) ToPose() spatialmath.Pose {
	n := t.Normalize()
	return spatialmath.NewPose(n.Translation(), RotationToQuaternion(n.Linear()))
}

// RotationToQuaternion converts an orthonormal rotation matrix into a unit quaternion
// with a non-negative real part.
func RotationToQuaternion(r [3][3]float64) *spatialmath.Quaternion {
	var w, x, y, z float64
	trace := r[0][0] + r[1][1] + r[2][2]
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		w = s / 4
		x = (r[2][1] - r[1][2]) / s
		y = (r[0][2] - r[2][0]) / s
		z = (r[1][0] - r[0][1]) / s
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		w = (r[2][1] - r[1][2]) / s
		x = s / 4
		y = (r[0][1] + r[1][0]) / s
		z = (r[0][2] + r[2][0]) / s
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		w = (r[0][2] - r[2][0]) / s
		x = (r[0][1] + r[1][0]) / s
		y = s / 4
		z = (r[1][2] + r[2][1]) / s
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		w = (r[1][0] - r[0][1]) / s
		x = (r[0][2] + r[2][0]) / s
		y = (r[1][2] + r[2][1]) / s
		z = s / 4
	}
	if w < 0 {
		w, x, y, z = -w, -x, -y, -z
	}
	norm := math.Sqrt(w*w + x*x + y*y + z*z)
	return &spatialmath.Quaternion{Real: w / norm, Imag: x / norm, Jmag: y / norm, Kmag: z / norm}
}

// FromInitialGuess builds the initial alignment from a translation, a floor normal,
// an up hint, and a scale. The rows of the rotation are the Gram-Schmidt
// orthonormalization of the up hint against the normal; the linear block is the
// scaled transpose of that rotation.
func FromInitialGuess(translation, normal, up r3.Vector, scale float64) (Transform, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Identity(), errors.Errorf("initial scale must be positive, got %v", scale)
	}
	if normal.Norm() == 0 {
		return Identity(), errors.New("initial normal must be non-zero")
	}
	if up.Norm() == 0 {
		return Identity(), errors.New("initial up vector must be non-zero")
	}
	n := normal.Normalize()
	u := up.Normalize()
	row1 := n.Mul(n.Dot(u)).Sub(u)
	if row1.Norm() < degenerateEpsilon {
		return Identity(), errors.New("initial normal and up vectors must not be parallel")
	}
	row1 = row1.Normalize()
	row0 := row1.Cross(n)

	rows := [3]r3.Vector{row0, row1, n}
	var linear [3][3]float64
	for i := 0; i < 3; i++ {
		linear[0][i] = scale * rows[i].X
		linear[1][i] = scale * rows[i].Y
		linear[2][i] = scale * rows[i].Z
	}
	return New(linear, translation), nil
}

func denseOf(l [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		l[0][0], l[0][1], l[0][2],
		l[1][0], l[1][1], l[1][2],
		l[2][0], l[2][1], l[2][2],
	})
}

func isFiniteVector(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
