package stage

import (
	"context"
	"fmt"

	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
)

// loadStageContext is every non-planner stage's load step: idempotent
// blob download followed by reading the job context file, mirroring
// original_source's repeated `load_data(tmp_dir, ...); load_context(...)`
// preamble in queues/cpu.py and queues/gpu.py.
func loadStageContext(ctx context.Context, rc *RunContext) (map[string]any, error) {
	if err := blobstore.LoadData(ctx, rc.Store, rc.ScratchDir, rc.JobID); err != nil {
		return nil, fmt.Errorf("load_data: %w", err)
	}
	stageCtx, err := blobstore.LoadContext(rc.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("load_context: %w", err)
	}
	return stageCtx, nil
}

// saveStageContext is every stage's save step: persist the (possibly
// mutated) context file, then re-pack and upload job/.
func saveStageContext(ctx context.Context, rc *RunContext, stageCtx map[string]any) error {
	if err := blobstore.SaveContext(rc.ScratchDir, stageCtx); err != nil {
		return fmt.Errorf("save_context: %w", err)
	}
	if err := blobstore.SaveData(ctx, rc.Store, rc.ScratchDir, rc.JobID); err != nil {
		return fmt.Errorf("save_data: %w", err)
	}
	return nil
}

// runContainerStage runs one docker-backed step and folds its outcome
// classification (runner.FatalError vs plain error vs success) into a
// stage.Outcome, the single place §4.3's "run container -> Outcome"
// translation happens so individual stage Handlers stay declarative.
func runContainerStage(ctx context.Context, rc *RunContext, spec runner.Spec) (string, Outcome, error) {
	logs, err := rc.Runner.Run(ctx, spec)
	if err != nil {
		var fatal *runner.FatalError
		if asFatal(err, &fatal) {
			return logs, Fatal(fatal.Log, fatal.Reason), nil
		}
		return logs, Outcome{}, err
	}
	return logs, Success(logs), nil
}

func asFatal(err error, target **runner.FatalError) bool {
	fe, ok := err.(*runner.FatalError)
	if !ok {
		return false
	}
	*target = fe
	return true
}

// stageString fetches a required string field from a context map,
// formatted with Go's %v so callers can treat ints/floats uniformly,
// the Go analogue of Python's str(context[key]) coercions scattered
// through prestage_0's argument building.
func stageString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
