package viamvllm

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/pointcloud"

	"github.com/viam-modules/viam-vllm/dataprocess"
	"github.com/viam-modules/viam-vllm/mapgrid"
	"github.com/viam-modules/viam-vllm/publisher"
)

func toChunkedFunc(b []byte) func() ([]byte, error) {
	chunk := make([]byte, chunkSizeBytes)

	reader := bytes.NewReader(b)

	f := func() ([]byte, error) {
		bytesRead, err := reader.Read(chunk)
		if err != nil {
			return nil, err
		}
		return chunk[:bytesRead], err
	}
	return f
}

func encodePCD(pc pointcloud.PointCloud) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := pointcloud.ToPCD(pc, buf, pointcloud.PCDBinary); err != nil {
		return nil, errors.Wrap(err, "error encoding map point cloud")
	}
	return buf.Bytes(), nil
}

type quaternionState struct {
	Real float64 `json:"real"`
	Imag float64 `json:"imag"`
	Jmag float64 `json:"jmag"`
	Kmag float64 `json:"kmag"`
}

type cellState struct {
	Index       [3]int          `json:"index"`
	Position    r3.Vector       `json:"position"`
	Orientation quaternionState `json:"orientation"`
	Spread      r3.Vector       `json:"spread"`
	Count       int             `json:"count"`
}

type mapState struct {
	Origin   r3.Vector   `json:"origin"`
	CellSize float64     `json:"cell_size"`
	Side     int         `json:"side"`
	Points   int         `json:"points"`
	Cells    []cellState `json:"cells"`
}

// internalState encodes every visible cell of view as JSON.
func internalState(view *mapgrid.View) ([]byte, error) {
	info := view.Info()
	state := mapState{
		Origin:   info.Origin,
		CellSize: info.CellSize,
		Side:     info.Side,
		Points:   info.Points,
	}
	for _, ic := range view.Grid().VisibleCells() {
		q := ic.Cell.Frame.Transform().Quaternion()
		state.Cells = append(state.Cells, cellState{
			Index:       [3]int{ic.Index.I, ic.Index.J, ic.Index.K},
			Position:    ic.Cell.Frame.Position,
			Orientation: quaternionState{Real: q.Real, Imag: q.Imag, Jmag: q.Jmag, Kmag: q.Kmag},
			Spread:      ic.Cell.Spread,
			Count:       ic.Cell.Count,
		})
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding internal state")
	}
	return b, nil
}

func vectorMap(v r3.Vector) map[string]interface{} {
	return map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z}
}

func visibleCellsSummary(view *mapgrid.View) map[string]interface{} {
	info := view.Info()
	return map[string]interface{}{
		"visible":   info.Visible,
		"populated": info.Populated,
		"points":    info.Points,
		"side":      info.Side,
		"cell_size": info.CellSize,
		"origin":    vectorMap(info.Origin),
	}
}

func publicationSummary(pub publisher.Publication) map[string]interface{} {
	pose := pub.FusedCamera.ToPose()
	q := pose.Orientation().Quaternion()
	return map[string]interface{}{
		"sequence":        pub.Sequence,
		"time":            pub.Time.UTC().Format(dataprocess.SlamTimeFormat),
		"state":           pub.State.String(),
		"accuracy":        pub.Accuracy,
		"landmarks":       len(pub.Cloud),
		"correspondences": len(pub.Correspondences),
		"trajectory":      len(pub.FusedTrajectory),
		"map_broadcast":   pub.MapBroadcast,
		"position":        vectorMap(pose.Point()),
		"orientation": map[string]interface{}{
			"real": q.Real,
			"imag": q.Imag,
			"jmag": q.Jmag,
			"kmag": q.Kmag,
		},
		"offset_position": vectorMap(pub.OffsetCamera.Translation()),
	}
}

// savePublication writes the aligned landmark cloud of the latest publication as a PCD
// and its summary as JSON into the data directory.
func (vllmSvc *VLLMService) savePublication(ctx context.Context) (map[string]interface{}, error) {
	_, span := trace.StartSpan(ctx, "viamvllm::VLLMService::savePublication")
	defer span.End()

	if vllmSvc.dataDirectory == "" {
		return nil, errors.New("save_publication requires data_dir to be configured")
	}
	pub := vllmSvc.latest.Load()
	if pub == nil {
		return nil, ErrNoPublication
	}

	cloud, err := dataprocess.PointCloudFromPoints(pub.Cloud)
	if err != nil {
		return nil, errors.Wrap(err, "error building landmark cloud")
	}
	pcdFile := dataprocess.CreateTimestampFilename(vllmSvc.dataDirectory, vllmSvc.camera.Name(), ".pcd", pub.Time)
	if err := dataprocess.WritePCDToFile(cloud, pcdFile); err != nil {
		return nil, errors.Wrap(err, "error saving landmark cloud")
	}
	jsonFile := dataprocess.CreateTimestampFilename(vllmSvc.dataDirectory, vllmSvc.camera.Name(), ".json", pub.Time)
	if err := dataprocess.WriteJSONToFile(publicationSummary(*pub), jsonFile); err != nil {
		return nil, errors.Wrap(err, "error saving publication summary")
	}
	vllmSvc.logger.Infow("saved publication", "sequence", pub.Sequence, "pcd", pcdFile, "json", jsonFile)
	return map[string]interface{}{"pcd": pcdFile, "json": jsonFile}, nil
}
