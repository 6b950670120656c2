package viamvllm

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viam-modules/viam-vllm/postprocess"
)

// mapEdits is the ordered list of postprocessing steps applied to the reference map.
type mapEdits struct {
	tasks   []postprocess.Task
	enabled bool
}

// editMap handles the postprocess commands in req, rebuilding the live map after each.
// Commands run in the order toggle, add, remove, undo.
func (vllmSvc *VLLMService) editMap(ctx context.Context, req, resp map[string]interface{}) error {
	_, span := trace.StartSpan(ctx, "viamvllm::VLLMService::editMap")
	defer span.End()

	vllmSvc.editMu.Lock()
	defer vllmSvc.editMu.Unlock()

	if _, ok := req[postprocess.ToggleCommand]; ok {
		vllmSvc.edits.enabled = !vllmSvc.edits.enabled
		if err := vllmSvc.rebuildMap(); err != nil {
			vllmSvc.edits.enabled = !vllmSvc.edits.enabled
			return err
		}
		resp[postprocess.ToggleCommand] = vllmSvc.edits.enabled
	}

	for _, cmd := range []struct {
		key         string
		instruction postprocess.Instruction
	}{
		{postprocess.AddCommand, postprocess.Add},
		{postprocess.RemoveCommand, postprocess.Remove},
	} {
		points, ok := req[cmd.key]
		if !ok {
			continue
		}
		task, err := postprocess.ParseDoCommand(points, cmd.instruction)
		if err != nil {
			return errors.Wrapf(err, "invalid %s command", cmd.key)
		}
		vllmSvc.edits.tasks = append(vllmSvc.edits.tasks, task)
		if err := vllmSvc.rebuildMap(); err != nil {
			vllmSvc.edits.tasks = vllmSvc.edits.tasks[:len(vllmSvc.edits.tasks)-1]
			return err
		}
		resp[cmd.key] = "success"
	}

	if _, ok := req[postprocess.UndoCommand]; ok {
		if len(vllmSvc.edits.tasks) == 0 {
			return postprocess.ErrNothingToUndo
		}
		last := vllmSvc.edits.tasks[len(vllmSvc.edits.tasks)-1]
		vllmSvc.edits.tasks = vllmSvc.edits.tasks[:len(vllmSvc.edits.tasks)-1]
		if err := vllmSvc.rebuildMap(); err != nil {
			vllmSvc.edits.tasks = append(vllmSvc.edits.tasks, last)
			return err
		}
		resp[postprocess.UndoCommand] = "success"
	}
	return nil
}

// rebuildMap replays the enabled edits over the reference points and swaps the
// result in as the live map. The map is encoded again on its next read. Callers
// must hold editMu.
func (vllmSvc *VLLMService) rebuildMap() error {
	points := vllmSvc.worldMap.Source()
	if vllmSvc.edits.enabled {
		points = postprocess.Apply(points, vllmSvc.edits.tasks)
	}
	if err := vllmSvc.worldMap.Rebuild(points); err != nil {
		return errors.Wrap(err, "error applying map edits")
	}
	vllmSvc.logger.Infow("rebuilt map after edit", "edits", len(vllmSvc.edits.tasks), "enabled", vllmSvc.edits.enabled)
	return nil
}

// originalMapPCD lazily encodes the map as it was loaded, before any edit.
func (vllmSvc *VLLMService) originalMapPCD() ([]byte, error) {
	if b := vllmSvc.originalPCD.Load(); b != nil {
		return *b, nil
	}
	b, err := encodePCD(vllmSvc.originalView.TargetCloud())
	if err != nil {
		return nil, err
	}
	vllmSvc.originalPCD.Store(&b)
	return b, nil
}
