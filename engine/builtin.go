package engine

import (
	"bytes"
	"context"
	"strconv"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/transform"
)

const (
	// PointCloudTracker is the name of the built-in tracker that extracts planar
	// landmarks from depth frames.
	PointCloudTracker = "pointcloud"
	// InitialGuessFuser is the name of the built-in fuser that holds the configured
	// initial alignment.
	InitialGuessFuser = "initial_guess"

	refineTranslationParam = "refine_translation"
	// ctxCheckInterval is how many landmarks are matched between context checks.
	ctxCheckInterval = 1024
)

func init() {
	RegisterTracker(PointCloudTracker, newPointCloudTracker)
	RegisterFuser(InitialGuessFuser, newInitialGuessFuser)
}

// pointCloudTracker treats every point of a depth frame with a planar neighborhood
// as a landmark. The frame is the tracker frame, so the camera pose is identity.
type pointCloudTracker struct {
	radius  float64
	tracked int
	logger  logging.Logger
}

func newPointCloudTracker(_ context.Context, opts Options) (Tracker, error) {
	if opts.NormalSearchRadius <= 0 {
		return nil, errors.Errorf("normal search radius must be positive, got %v", opts.NormalSearchRadius)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(PointCloudTracker)
	}
	return &pointCloudTracker{radius: opts.NormalSearchRadius, logger: logger}, nil
}

// Track keeps the points whose planarity reaches the accuracy threshold. The
// iteration budget does not apply to this tracker.
func (t *pointCloudTracker) Track(ctx context.Context, img Image, criteria Criteria) (TrackResult, error) {
	if img.MimeType != rdkutils.MimeTypePCD {
		return TrackResult{}, errors.Errorf("pointcloud tracker needs %v frames, got %q", rdkutils.MimeTypePCD, img.MimeType)
	}
	pc, err := pointcloud.ReadPCD(bytes.NewReader(img.Data))
	if err != nil {
		return TrackResult{}, errors.Wrap(err, "error decoding depth frame")
	}
	if err := ctx.Err(); err != nil {
		return TrackResult{}, err
	}

	points := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		points = append(points, p)
		return true
	})
	normals, planarity := mapgrid.EstimateNormals(points, t.radius)

	var landmarks Landmarks
	for i, p := range points {
		if planarity[i] < criteria.Accuracy || normals[i] == (r3.Vector{}) {
			continue
		}
		landmarks.Points = append(landmarks.Points, p)
		landmarks.Normals = append(landmarks.Normals, normals[i])
		landmarks.Weights = append(landmarks.Weights, planarity[i])
	}

	state := t.state(landmarks.Len())
	t.logger.Debugw("extracted landmarks",
		"points", len(points), "landmarks", landmarks.Len(), "accuracy", criteria.Accuracy, "state", state)
	return TrackResult{State: state, CameraPose: transform.Identity(), Landmarks: landmarks}, nil
}

func (t *pointCloudTracker) state(landmarks int) TrackingState {
	switch {
	case landmarks == 0 && t.tracked == 0:
		return NotInitialized
	case landmarks == 0:
		return Lost
	case t.tracked == 0:
		t.tracked++
		return Initializing
	default:
		t.tracked++
		return Tracking
	}
}

func (t *pointCloudTracker) Close() error {
	return nil
}

// initialGuessFuser maps landmarks with the configured initial alignment and matches
// each to its nearest target point. With refine_translation set, the alignment
// translation follows the mean correspondence residual from frame to frame.
type initialGuessFuser struct {
	mu        sync.Mutex
	initial   transform.Transform
	alignment transform.Transform
	distance  float64
	refine    bool
}

func newInitialGuessFuser(_ context.Context, opts Options) (Fuser, error) {
	f := &initialGuessFuser{
		initial:   opts.InitialAlignment,
		alignment: opts.InitialAlignment,
		distance:  opts.CorrespondenceDistance,
	}
	if raw, ok := opts.Params[refineTranslationParam]; ok {
		refine, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing %v", refineTranslationParam)
		}
		f.refine = refine
	}
	return f, nil
}

func (f *initialGuessFuser) Fuse(ctx context.Context, in FusionInput) (FusionResult, error) {
	if err := in.Landmarks.Validate(); err != nil {
		return FusionResult{}, err
	}
	if in.Map == nil {
		return FusionResult{}, errors.New("fusion needs a map")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	target := in.Map.Target()
	var correspondences []Correspondence
	var residual r3.Vector
	if f.distance > 0 {
		for i, p := range in.Landmarks.Points {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return FusionResult{}, err
				}
			}
			aligned := f.alignment.Apply(p)
			j, ok := in.Map.Nearest(aligned, f.distance)
			if !ok {
				continue
			}
			correspondences = append(correspondences, Correspondence{Query: i, Match: j})
			residual = residual.Add(target[j].Sub(aligned))
		}
	}

	if f.refine && len(correspondences) > 0 {
		shift := residual.Mul(1 / float64(len(correspondences)))
		f.alignment = transform.New(f.alignment.Linear(), f.alignment.Translation().Add(shift))
	}

	fused := f.alignment.Mul(in.CameraPose)
	offset := f.initial.Mul(in.CameraPose)
	return FusionResult{
		Alignment:       f.alignment,
		FusedCamera:     fused,
		OffsetCamera:    offset,
		FusedDelta:      []r3.Vector{fused.Translation()},
		OffsetDelta:     []r3.Vector{offset.Translation()},
		Correspondences: correspondences,
	}, nil
}

func (f *initialGuessFuser) Close() error {
	return nil
}
