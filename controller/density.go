// Package controller implements the feedback loop that adapts the landmark extraction
// threshold of the tracking engine from frame to frame.
package controller

import (
	"math"
	"sync/atomic"
)

const (
	// DefaultAccuracy is the threshold handed to the first extraction request.
	DefaultAccuracy = 0.5
	// MinAccuracy is the lowest threshold the controller steps down to.
	MinAccuracy = 0.10
	// MaxAccuracy is the highest threshold the controller steps up to.
	MaxAccuracy = 0.90
	// LowLandmarkCount is the count below which the threshold is relaxed.
	LowLandmarkCount = 300
	// HighLandmarkCount is the count above which the threshold is tightened.
	HighLandmarkCount = 500

	// the threshold is kept in hundredths so every step is exact
	stepHundredths = 1
	minHundredths  = 10
	maxHundredths  = 90
)

// Density is a bang-bang controller over the extraction accuracy. The value it holds
// after Observe is the one used by the next extraction request, so the landmark count
// of a cycle only ever affects later cycles.
//
// Density is written by a single producer; Accuracy may be read from any goroutine.
type Density struct {
	hundredths atomic.Int64
}

// NewDensity returns a controller starting at the given accuracy. The value is
// rounded to the nearest hundredth and clamped to [MinAccuracy, MaxAccuracy].
func NewDensity(initial float64) *Density {
	if math.IsNaN(initial) {
		initial = DefaultAccuracy
	}
	initial = max(MinAccuracy, min(MaxAccuracy, initial))
	h := int64(math.Round(initial * 100))

	d := &Density{}
	d.hundredths.Store(h)
	return d
}

// Accuracy returns the threshold for the next extraction request.
func (d *Density) Accuracy() float64 {
	return float64(d.hundredths.Load()) / 100
}

// Observe updates the threshold from the number of landmarks the last extraction
// produced and returns the threshold for the next one.
func (d *Density) Observe(landmarks int) float64 {
	h := d.hundredths.Load()
	switch {
	case landmarks < LowLandmarkCount && h > minHundredths:
		h -= stepHundredths
	case landmarks > HighLandmarkCount && h < maxHundredths:
		h += stepHundredths
	}
	d.hundredths.Store(h)
	return float64(h) / 100
}
