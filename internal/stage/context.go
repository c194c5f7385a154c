package stage

import (
	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
)

// RunContext bundles everything a Handler needs to execute one task:
// the job/task identity, the opaque submission payload, and the shared
// platform services (blob store, container runner, broker, logger) a
// stage's load -> run container -> save cycle depends on. Grounded on
// the worker-scoped dependency bundle original_source's queues modules
// close over implicitly; here it is passed explicitly per Go idiom.
type RunContext struct {
	JobID  string
	TaskID string
	Step   string // "pool.name"

	// ScratchDir is this job's <scratch_root>/<job_id> directory, already
	// created with job/input and job/output subdirectories.
	ScratchDir string

	// Payload is the job-wide submission payload (decoded form fields),
	// read-only from the stage's perspective.
	Payload map[string]any

	Store  blobstore.Store
	Runner runner.Runner
	Broker broker.Broker
	Log    *logger.Logger
}

// With returns a copy of rc scoped to a different step/task.
func (rc *RunContext) With(step, taskID string) *RunContext {
	clone := *rc
	clone.Step = step
	clone.TaskID = taskID
	return &clone
}
