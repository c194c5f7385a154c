package stage

import (
	"context"
	"fmt"
	"os"
)

// CleanupStage is cpu.cleanup. spec.md §9's Open Question #3 leaves its
// contract unconfirmed ("delete the shared archive"); this repo resolves
// it that way, since every stage after prestage_0 only ever reads the
// job's archive to reconstruct local scratch state, and nothing consumes
// it once cpu.stage_9/cpu.stage_3 has produced the final outputs the
// download endpoint serves from durable storage, not from the archive.
type CleanupStage struct{}

func NewCleanupStage() *CleanupStage { return &CleanupStage{} }

func (s *CleanupStage) Identifier() string { return "cpu.cleanup" }

func (s *CleanupStage) Run(ctx context.Context, rc *RunContext) Outcome {
	key := rc.JobID + "/data.zip"
	if err := rc.Store.Delete(ctx, key); err != nil {
		return Fatal("", fmt.Sprintf("delete shared archive %s: %v", key, err))
	}
	_ = os.RemoveAll(rc.ScratchDir)
	return Success(fmt.Sprintf("deleted shared archive %s", key))
}
