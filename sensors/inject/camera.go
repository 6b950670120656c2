// Package inject provides dependency injected structures for mocking interfaces.
package inject

import (
	"context"

	s "github.com/viam-modules/viam-vllm/sensors"
)

// TimedCamera is an injected TimedCamera.
type TimedCamera struct {
	s.Camera
	NameFunc            func() string
	DataFrequencyHzFunc func() int
	MimeTypeFunc        func() string
	TimedImageFunc      func(ctx context.Context) (s.TimedImageResponse, error)
}

// Name calls the injected Name or the real version.
func (tc *TimedCamera) Name() string {
	if tc.NameFunc == nil {
		return tc.Camera.Name()
	}
	return tc.NameFunc()
}

// DataFrequencyHz calls the injected DataFrequencyHz or the real version.
func (tc *TimedCamera) DataFrequencyHz() int {
	if tc.DataFrequencyHzFunc == nil {
		return tc.Camera.DataFrequencyHz()
	}
	return tc.DataFrequencyHzFunc()
}

// MimeType calls the injected MimeType or the real version.
func (tc *TimedCamera) MimeType() string {
	if tc.MimeTypeFunc == nil {
		return tc.Camera.MimeType()
	}
	return tc.MimeTypeFunc()
}

// TimedImage calls the injected TimedImage or the real version.
func (tc *TimedCamera) TimedImage(ctx context.Context) (s.TimedImageResponse, error) {
	if tc.TimedImageFunc == nil {
		return tc.Camera.TimedImage(ctx)
	}
	return tc.TimedImageFunc(ctx)
}
