package controller

import (
	"math"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestNewDensity(t *testing.T) {
	test.That(t, NewDensity(DefaultAccuracy).Accuracy(), test.ShouldEqual, 0.5)
	test.That(t, NewDensity(0.333).Accuracy(), test.ShouldEqual, 0.33)
	test.That(t, NewDensity(0.01).Accuracy(), test.ShouldEqual, MinAccuracy)
	test.That(t, NewDensity(1.5).Accuracy(), test.ShouldEqual, MaxAccuracy)
	test.That(t, NewDensity(math.Inf(-1)).Accuracy(), test.ShouldEqual, MinAccuracy)
	test.That(t, NewDensity(math.NaN()).Accuracy(), test.ShouldEqual, DefaultAccuracy)
}

func TestObserveSingleStep(t *testing.T) {
	for _, tc := range []struct {
		msg       string
		landmarks int
		expected  float64
	}{
		{"too few landmarks relaxes the threshold", 200, 0.49},
		{"too many landmarks tightens the threshold", 600, 0.51},
		{"landmarks inside the band leave it unchanged", 400, 0.50},
		{"the lower band edge is inclusive", LowLandmarkCount, 0.50},
		{"the upper band edge is inclusive", HighLandmarkCount, 0.50},
		{"no landmarks relaxes the threshold", 0, 0.49},
	} {
		t.Run(tc.msg, func(t *testing.T) {
			d := NewDensity(0.5)
			next := d.Observe(tc.landmarks)
			test.That(t, next, test.ShouldEqual, tc.expected)
			test.That(t, d.Accuracy(), test.ShouldEqual, tc.expected)
		})
	}
}

func TestObserveBoundaries(t *testing.T) {
	t.Run("never steps below the minimum", func(t *testing.T) {
		d := NewDensity(MinAccuracy)
		for i := 0; i < 100; i++ {
			d.Observe(10)
			test.That(t, d.Accuracy(), test.ShouldEqual, MinAccuracy)
		}
	})

	t.Run("never steps above the maximum", func(t *testing.T) {
		d := NewDensity(MaxAccuracy)
		for i := 0; i < 100; i++ {
			d.Observe(10000)
			test.That(t, d.Accuracy(), test.ShouldEqual, MaxAccuracy)
		}
	})

	t.Run("walks from the default down to the minimum in forty steps", func(t *testing.T) {
		d := NewDensity(DefaultAccuracy)
		for i := 0; i < 39; i++ {
			d.Observe(0)
		}
		test.That(t, d.Accuracy(), test.ShouldEqual, 0.11)
		d.Observe(0)
		test.That(t, d.Accuracy(), test.ShouldEqual, MinAccuracy)
		d.Observe(0)
		test.That(t, d.Accuracy(), test.ShouldEqual, MinAccuracy)
	})

	t.Run("recovers from the maximum", func(t *testing.T) {
		d := NewDensity(MaxAccuracy)
		test.That(t, d.Observe(100), test.ShouldEqual, 0.89)
	})
}

func TestAccuracyConcurrentReads(t *testing.T) {
	d := NewDensity(DefaultAccuracy)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			a := d.Accuracy()
			if a < MinAccuracy || a > MaxAccuracy {
				t.Errorf("accuracy %v out of range", a)
				return
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		d.Observe(i % 1000)
	}
	wg.Wait()
}
