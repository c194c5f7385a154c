package stage

import (
	"context"
	"os"

	"github.com/yungbote/pipeline-orchestrator/internal/runner"
)

// GPUStage is a gpu-pool stage, grounded on
// original_source/service/src/queues/gpu.py's stage_2
// (generate_textures): load -> run a GPU container against the Comfy
// image -> save. stage_4 (semantics) and stage_8 (4x upscale) share the
// identical shape against different scripts, which the original leaves
// unimplemented stubs for; this repo fills them in per spec.md §4.4's
// supplement note.
type GPUStage struct {
	step        string
	image       string
	commandTemplate string
	keepScratch bool
}

func NewGPUStage(step, image, commandTemplate string, keepScratch bool) *GPUStage {
	return &GPUStage{step: step, image: image, commandTemplate: commandTemplate, keepScratch: keepScratch}
}

func (s *GPUStage) Identifier() string { return s.step }

func (s *GPUStage) Run(ctx context.Context, rc *RunContext) Outcome {
	stageCtx, err := loadStageContext(ctx, rc)
	if err != nil {
		return Fatal("", err.Error())
	}

	spec := runner.Spec{
		Image:             s.image,
		CommandTemplate:   s.commandTemplate,
		Context:           stageCtx,
		LocalInputDir:     stageString(stageCtx, ctxLocalInputDir),
		LocalOutputDir:    stageString(stageCtx, ctxLocalOutputDir),
		DockerInputDir:    stageString(stageCtx, ctxDockerInputDir),
		DockerOutputDir:   stageString(stageCtx, ctxDockerOutputDir),
		CompatOutputAlias: "/workdir/blender_workdir/job/output",
		NeedGPU:           true,
		ContainerName:     runner.ContainerName(Name(s.step), rc.TaskID),
	}

	logs, outcome, err := runContainerStage(ctx, rc, spec)
	if err != nil {
		return Fatal(logs, err.Error())
	}
	if !outcome.OK() {
		return outcome
	}

	if err := saveStageContext(ctx, rc, stageCtx); err != nil {
		return Fatal(logs, err.Error())
	}
	if !s.keepScratch {
		_ = os.RemoveAll(rc.ScratchDir)
	}
	return Success(logs)
}
