package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"
)

const tolerance = 1e-9

func rotationZ(theta float64) [3][3]float64 {
	c, s := math.Cos(theta), math.Sin(theta)
	return [3][3]float64{
		{c, -s, 0},
		{s, c, 0},
		{0, 0, 1},
	}
}

func scaled(l [3][3]float64, s float64) [3][3]float64 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			l[i][j] *= s
		}
	}
	return l
}

func vectorsAlmostEqual(t *testing.T, actual, expected r3.Vector) {
	t.Helper()
	test.That(t, actual.X, test.ShouldAlmostEqual, expected.X, tolerance)
	test.That(t, actual.Y, test.ShouldAlmostEqual, expected.Y, tolerance)
	test.That(t, actual.Z, test.ShouldAlmostEqual, expected.Z, tolerance)
}

func isOrthonormal(l [3][3]float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += l[k][i] * l[k][j]
			}
			expected := 0.0
			if i == j {
				expected = 1
			}
			if math.Abs(dot-expected) > 1e-9 {
				return false
			}
		}
	}
	return true
}

func TestApplyRoundTrip(t *testing.T) {
	align := New(scaled(rotationZ(0.7), 2.5), r3.Vector{X: 1, Y: -2, Z: 3})
	cloud := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 2, Z: 3}, {X: -4.5, Y: 0.25, Z: 9}}

	inverse, err := align.Inverse()
	test.That(t, err, test.ShouldBeNil)

	roundTrip := inverse.ApplyAll(align.ApplyAll(cloud))
	test.That(t, roundTrip, test.ShouldHaveLength, len(cloud))
	for i := range cloud {
		vectorsAlmostEqual(t, roundTrip[i], cloud[i])
	}

	t.Run("ApplyAll does not alias its input", func(t *testing.T) {
		out := Identity().ApplyAll(cloud)
		out[0] = r3.Vector{X: 42}
		test.That(t, cloud[0], test.ShouldResemble, r3.Vector{})
	})
}

func TestInverseSingular(t *testing.T) {
	var zero Transform
	_, err := zero.Inverse()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ErrSingular.Error())
}

func TestApplyNormals(t *testing.T) {
	t.Run("a pure rotation preserves unit length", func(t *testing.T) {
		rot := New(rotationZ(math.Pi/2), r3.Vector{X: 10, Y: 10, Z: 10})
		normals := rot.ApplyNormals([]r3.Vector{{X: 1}, {Y: 1}, {X: 0.6, Z: 0.8}})
		vectorsAlmostEqual(t, normals[0], r3.Vector{Y: 1})
		vectorsAlmostEqual(t, normals[1], r3.Vector{X: -1})
		for _, n := range normals {
			test.That(t, n.Norm(), test.ShouldAlmostEqual, 1, tolerance)
		}
	})

	t.Run("translation and uniform scale do not change direction", func(t *testing.T) {
		align := New(scaled(rotationZ(0), 3), r3.Vector{X: 5})
		normals := align.ApplyNormals([]r3.Vector{{Z: 1}})
		vectorsAlmostEqual(t, normals[0], r3.Vector{Z: 1})
	})

	t.Run("non-uniform scale uses the inverse-transpose", func(t *testing.T) {
		stretch := New([3][3]float64{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}}, r3.Vector{})
		// the plane x + y = 0 has normal (1, 1, 0); after stretching x it is x/2 + y = 0
		normals := stretch.ApplyNormals([]r3.Vector{{X: 1, Y: 1}})
		expected := r3.Vector{X: 0.5, Y: 1}.Normalize()
		vectorsAlmostEqual(t, normals[0], expected)
	})

	t.Run("zero normals stay zero", func(t *testing.T) {
		normals := Identity().ApplyNormals([]r3.Vector{{}})
		test.That(t, normals[0], test.ShouldResemble, r3.Vector{})
	})

	t.Run("singular transform falls back to the normalized rotation", func(t *testing.T) {
		var flat Transform
		flat[0][0], flat[1][1] = 1, 1
		normals := flat.ApplyNormals([]r3.Vector{{Z: 1}})
		test.That(t, normals[0].Norm(), test.ShouldAlmostEqual, 1, tolerance)
	})
}

func TestNormalize(t *testing.T) {
	t.Run("removes scale and keeps translation", func(t *testing.T) {
		pose := New(scaled(rotationZ(0.3), 4), r3.Vector{X: 1, Y: 2, Z: 3})
		n := pose.Normalize()
		test.That(t, isOrthonormal(n.Linear()), test.ShouldBeTrue)
		expected := rotationZ(0.3)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				test.That(t, n[i][j], test.ShouldAlmostEqual, expected[i][j], tolerance)
			}
		}
		vectorsAlmostEqual(t, n.Translation(), r3.Vector{X: 1, Y: 2, Z: 3})
		test.That(t, n[3], test.ShouldResemble, [4]float64{0, 0, 0, 1})
	})

	t.Run("repairs drift in the rotation block", func(t *testing.T) {
		drifted := rotationZ(1.1)
		drifted[0][1] += 1e-3
		drifted[2][0] -= 2e-3
		n := New(drifted, r3.Vector{}).Normalize()
		test.That(t, isOrthonormal(n.Linear()), test.ShouldBeTrue)
	})

	t.Run("reflections become proper rotations", func(t *testing.T) {
		mirror := New([3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, -1}}, r3.Vector{})
		n := mirror.Normalize()
		test.That(t, isOrthonormal(n.Linear()), test.ShouldBeTrue)
		l := n.Linear()
		det := l[0][0]*(l[1][1]*l[2][2]-l[1][2]*l[2][1]) -
			l[0][1]*(l[1][0]*l[2][2]-l[1][2]*l[2][0]) +
			l[0][2]*(l[1][0]*l[2][1]-l[1][1]*l[2][0])
		test.That(t, det, test.ShouldAlmostEqual, 1, tolerance)
	})

	t.Run("degenerate input recovers to identity rotation", func(t *testing.T) {
		var zero Transform
		zero[0][3] = 7
		n := zero.Normalize()
		test.That(t, n.Linear(), test.ShouldResemble, Identity().Linear())
		test.That(t, n.Translation(), test.ShouldResemble, r3.Vector{X: 7})

		nan := Identity()
		nan[1][1] = math.NaN()
		nan[2][3] = math.Inf(1)
		n = nan.Normalize()
		test.That(t, n, test.ShouldResemble, Identity())
		test.That(t, n.IsFinite(), test.ShouldBeTrue)
	})
}

func TestToPose(t *testing.T) {
	pose := New(scaled(rotationZ(math.Pi/2), 2), r3.Vector{X: 1, Y: 2, Z: 3}).ToPose()
	expected := spatialmath.NewPose(
		r3.Vector{X: 1, Y: 2, Z: 3},
		&spatialmath.Quaternion{Real: math.Sqrt2 / 2, Kmag: math.Sqrt2 / 2},
	)
	test.That(t, spatialmath.PoseAlmostEqual(pose, expected), test.ShouldBeTrue)

	q := RotationToQuaternion(rotationZ(math.Pi))
	test.That(t, q.Real, test.ShouldAlmostEqual, 0, tolerance)
	test.That(t, math.Abs(q.Kmag), test.ShouldAlmostEqual, 1, tolerance)
}

func TestFromInitialGuess(t *testing.T) {
	t.Run("builds a scaled rotation whose last row maps to the normal", func(t *testing.T) {
		guess, err := FromInitialGuess(r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{Z: 2}, r3.Vector{Y: -1}, 2)
		test.That(t, err, test.ShouldBeNil)
		vectorsAlmostEqual(t, guess.Translation(), r3.Vector{X: 1, Y: 2, Z: 3})

		unscaled := scaled(guess.Linear(), 0.5)
		test.That(t, isOrthonormal(unscaled), test.ShouldBeTrue)
		// the third column of the linear block is the normalized normal
		vectorsAlmostEqual(t, r3.Vector{X: unscaled[0][2], Y: unscaled[1][2], Z: unscaled[2][2]}, r3.Vector{Z: 1})
	})

	t.Run("rejects degenerate inputs", func(t *testing.T) {
		_, err := FromInitialGuess(r3.Vector{}, r3.Vector{Z: 1}, r3.Vector{Y: 1}, 0)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = FromInitialGuess(r3.Vector{}, r3.Vector{}, r3.Vector{Y: 1}, 1)
		test.That(t, err, test.ShouldBeError, "initial normal must be non-zero")
		_, err = FromInitialGuess(r3.Vector{}, r3.Vector{Z: 1}, r3.Vector{}, 1)
		test.That(t, err, test.ShouldBeError, "initial up vector must be non-zero")
		_, err = FromInitialGuess(r3.Vector{}, r3.Vector{Z: 1}, r3.Vector{Z: 3}, 1)
		test.That(t, err, test.ShouldBeError, "initial normal and up vectors must not be parallel")
	})
}
