// Package submission implements spec.md §4.6's submission handler as a
// transport-agnostic service: stage uploaded files, archive and upload
// the job's initial shared state, run the planner, and persist the
// QUEUED row. The HTTP layer (internal/http/handlers) is a thin
// transport adapter over this service, matching how the teacher keeps
// its handlers thin wrappers over a services.* layer.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yungbote/pipeline-orchestrator/internal/data/repos/jobs"
	"github.com/yungbote/pipeline-orchestrator/internal/domain"
	"github.com/yungbote/pipeline-orchestrator/internal/plan"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

// InputFile is one uploaded file, already opened for reading by the
// transport layer (e.g. a multipart.FileHeader's content).
type InputFile struct {
	Name string
	Data io.Reader
}

// Form is the decoded multipart payload for POST /schedule_job: the
// planner-relevant flags (plan.Submission), the opaque pass-through
// payload fields, and the two file collections spec.md §4.5 resolves
// as input_meshes[]/style_images[].
type Form struct {
	Plan    plan.Submission
	Payload map[string]any

	InputMeshes  []InputFile
	StyleImages  []InputFile
}

type Service struct {
	repo  jobs.JobRepo
	store blobstore.Store
	log   *logger.Logger
}

func New(repo jobs.JobRepo, store blobstore.Store, log *logger.Logger) *Service {
	return &Service{repo: repo, store: store, log: log.With("service", "submission")}
}

// Schedule is spec.md §4.6's six numbered steps: generate job_id, stage
// files with zero-padded index prefixes, archive+upload initial scratch,
// plan, persist QUEUED, return the job.
func (s *Service) Schedule(ctx context.Context, form Form) (*domain.Job, error) {
	if err := plan.Validate(form.Plan); err != nil {
		return nil, err
	}
	steps := plan.Plan(form.Plan)

	jobID := uuid.New()

	scratchDir, err := blobstore.JobScratchDir(jobID.String())
	if err != nil {
		return nil, fmt.Errorf("allocate scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	inputDir := filepath.Join(scratchDir, "job", "input")
	styleDir := filepath.Join(inputDir, "style_images")
	if err := os.MkdirAll(styleDir, 0o755); err != nil {
		return nil, fmt.Errorf("create style image dir: %w", err)
	}

	meshNames, err := stageIndexedFiles(inputDir, form.InputMeshes)
	if err != nil {
		return nil, err
	}
	styleNames, err := stageIndexedFiles(styleDir, form.StyleImages)
	if err != nil {
		return nil, err
	}

	if err := blobstore.SaveData(ctx, s.store, scratchDir, jobID.String()); err != nil {
		return nil, fmt.Errorf("upload initial shared state: %w", err)
	}

	payload := make(map[string]any, len(form.Payload)+2)
	for k, v := range form.Payload {
		payload[k] = v
	}
	payload["job_id"] = jobID.String()
	payload["input_meshes"] = meshNames
	payload["style_images"] = styleNames

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &domain.Job{
		ID:      jobID,
		Status:  domain.JobStatusQueued,
		Steps:   domain.EncodeStringSlice(steps),
		Total:   len(steps),
		TaskIDs: domain.EncodeStringSlice(nil),
		Payload: payloadJSON,
	}

	created, err := s.repo.Create(dbctx.Context{Ctx: ctx}, job)
	if err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	return created, nil
}

// stageIndexedFiles writes each file under dir with a stable zero-padded
// index prefix ("000_original", "001_original", …) to avoid filename
// collisions, per spec.md §4.6 step 2, and returns the written basenames
// in order for the planner-input payload.
func stageIndexedFiles(dir string, files []InputFile) ([]string, error) {
	names := make([]string, 0, len(files))
	for i, f := range files {
		name := fmt.Sprintf("%03d_original%s", i, filepath.Ext(f.Name))
		path := filepath.Join(dir, name)
		out, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("stage input file %s: %w", f.Name, err)
		}
		_, copyErr := io.Copy(out, f.Data)
		closeErr := out.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("write input file %s: %w", f.Name, copyErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close input file %s: %w", f.Name, closeErr)
		}
		names = append(names, name)
	}
	return names, nil
}
