package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yungbote/pipeline-orchestrator/internal/runner"
)

// BlenderStage is a cpu-pool stage that loads the shared job context,
// launches the Blender tooling image with a script + argument template
// interpolated against that context, and saves the result — the shape
// every non-planner cpu.py task (stage_0, stage_1, stage_3, stage_6,
// stage_9) and the displacement stage (registered under the gpu pool
// as stage_7 per the planner's step list) shares in original_source,
// captured once instead of duplicated per stage as the Python module does.
type BlenderStage struct {
	step            string // "cpu.stage_N"
	image           string
	script          string // e.g. "preprocess_input.py"
	argTemplate     string // "-i {massings_paths} -w /workdir/ -o {preprocessed_massings_path} ..."
	keepScratch     bool   // original leaves later stages' tmp_dir on disk (commented-out rmtree)
}

func NewBlenderStage(step, image, script, argTemplate string, keepScratch bool) *BlenderStage {
	return &BlenderStage{step: step, image: image, script: script, argTemplate: argTemplate, keepScratch: keepScratch}
}

func (s *BlenderStage) Identifier() string { return s.step }

func (s *BlenderStage) Run(ctx context.Context, rc *RunContext) Outcome {
	stageCtx, err := loadStageContext(ctx, rc)
	if err != nil {
		return Fatal("", err.Error())
	}

	command := generateBlenderCommand(s.script, s.argTemplate)
	spec := runner.Spec{
		Image:             s.image,
		CommandTemplate:   command,
		Context:           stageCtx,
		LocalInputDir:     stageString(stageCtx, ctxLocalInputDir),
		LocalOutputDir:    stageString(stageCtx, ctxLocalOutputDir),
		DockerInputDir:    stageString(stageCtx, ctxDockerInputDir),
		DockerOutputDir:   stageString(stageCtx, ctxDockerOutputDir),
		CompatOutputAlias: "/workdir/blender_workdir/job/output",
		NeedGPU:           false,
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

// generateBlenderCommand mirrors original_source's generate_blender_command,
// prefixing the interpreter invocation every Blender tooling script shares.
func generateBlenderCommand(script, argTemplate string) string {
	return fmt.Sprintf("${BLENDERPY} %s %s", filepath.Join("/workdir/tools", script), argTemplate)
}
