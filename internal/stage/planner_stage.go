package stage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
)

// PlannerStage is cpu.prestage_0, grounded verbatim on
// original_source/service/src/queues/cpu.py's prestage_0: it builds the
// job's scratch directories, renders a flag-driven argument list for the
// config-generator tool, runs it in a container, parses its single-line
// stdout tuple, derives every NN_<name> stage-output path from it, and
// persists the resulting context as the shared state every later stage
// reads with loadStageContext.
type PlannerStage struct {
	image string
}

func NewPlannerStage(image string) *PlannerStage {
	return &PlannerStage{image: image}
}

func (s *PlannerStage) Identifier() string { return "cpu.prestage_0" }

func (s *PlannerStage) Run(ctx context.Context, rc *RunContext) Outcome {
	localInput := filepath.Join(rc.ScratchDir, "job", "input")
	localOutput := filepath.Join(rc.ScratchDir, "job", "output")

	stageCtx := map[string]any{
		ctxTmpDir:          rc.ScratchDir,
		ctxLocalOutputDir:  localOutput,
		ctxLocalInputDir:   localInput,
		ctxDockerOutputDir: "/workdir/job/output",
		ctxDockerInputDir:  "/workdir/job/input",
		ctxConfigPath:      "/workdir/job/output/generated_config.py",
		ctxConfigFilename:  "generated_config",
	}

	if err := blobstore.LoadData(ctx, rc.Store, rc.ScratchDir, rc.JobID); err != nil {
		return Fatal("", fmt.Sprintf("load_data: %v", err))
	}

	args := buildConfigGeneratorArgs(rc.Payload, stageCtx)
	command := "${BLENDERPY} /workdir/tools/config_generator.py " + strings.Join(args, " ") +
		" > /workdir/job/output/runtime_params_raw"

	spec := runner.Spec{
		Image:             s.image,
		CommandTemplate:   command,
		Context:           stageCtx,
		LocalInputDir:     localInput,
		LocalOutputDir:    localOutput,
		DockerInputDir:    "/workdir/job/input",
		DockerOutputDir:   "/workdir/job/output",
		CompatOutputAlias: "/workdir/blender_workdir/job/output",
		NeedGPU:           false,
		ContainerName:     runner.ContainerName("prestage_0", rc.TaskID),
	}

	logs, outcome, err := runContainerStage(ctx, rc, spec)
	if err != nil {
		return Fatal(logs, err.Error())
	}
	if !outcome.OK() {
		return outcome
	}

	runtimeParams, err := parseRuntimeParams(filepath.Join(localOutput, "runtime_params_raw"))
	if err != nil {
		return Fatal(logs, err.Error())
	}
	for k, v := range runtimeParams {
		stageCtx[k] = v
	}

	outputDir := stageString(stageCtx, ctxOutputDir)
	configFilename := stageString(stageCtx, ctxConfigFilename)
	base := filepath.Join(outputDir, configFilename)

	stageCtx[ctxPreprocessedMassingsPath] = filepath.Join(base, DirPreprocessedMassings)
	stageCtx[ctxPriorRendersPath] = filepath.Join(base, DirPriorRenders)
	stageCtx[ctxGeneratedTexturesPath] = filepath.Join(base, DirGeneratedTextures)
	stageCtx[ctxSemanticsOutputDir] = filepath.Join(base, DirSemantics)
	stageCtx[ctxProjectionOutput] = filepath.Join(base, DirProjection)
	stageCtx[ctxRefinementOutputDir] = filepath.Join(base, DirRefinement)
	stageCtx[ctxTotalGridOutputDir] = filepath.Join(base, DirTotalGrid)
	stageCtx[ctxDisplacementOutput] = filepath.Join(base, DirDisplacement)
	stageCtx[ctxUpscaledTexturesPath] = filepath.Join(base, DirUpscale)
	stageCtx[ctxFinalPath] = filepath.Join(base, DirFinalBlend)
	stageCtx[ctxFinalRender] = filepath.Join(base, DirFinalRender)

	if err := saveStageContext(ctx, rc, stageCtx); err != nil {
		return Fatal(logs, err.Error())
	}
	_ = os.RemoveAll(rc.ScratchDir)
	return Success(logs)
}

// parseRuntimeParams reads the single line the config generator writes to
// stdout — "<ignored> <random_subset_size> <config_path> <output_dir>
// <massings_paths>" — matching prestage_0's
// `runtime_params_raw.split(' ')[1:]` slice.
func parseRuntimeParams(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open runtime_params_raw: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, fmt.Errorf("runtime_params_raw is empty")
	}
	fields := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), " ")
	if len(fields) < 5 {
		return nil, fmt.Errorf("runtime_params_raw has %d fields, expected at least 5", len(fields))
	}
	rest := fields[1:]
	return map[string]string{
		ctxRandomSubsetSize: rest[0],
		ctxConfigPath:       rest[1],
		ctxOutputDir:        rest[2],
		ctxMassingsPaths:    rest[3],
	}, nil
}

// buildConfigGeneratorArgs renders prestage_0's generate_config_args list,
// the one place submission payload fields are translated into the config
// generator's CLI flags. Boolean flags are included bare (no value) when
// true and omitted when false, matching the original's `*['--flag' if x
// else '']` idiom; multi-value flags are omitted entirely when empty,
// matching `multivalue_option`.
func buildConfigGeneratorArgs(p map[string]any, stageCtx map[string]any) []string {
	args := []string{"--workdir", "{docker_output_dir}"}

	args = append(args,
		"--pos_prompt", quoted(strField(p, "pos_prompt")),
		"--neg_prompt", quoted(strField(p, "neg_prompt")),
		"--prompt_strength", strField(p, "prompt_strength"),
		"--random_seed", strField(p, "random_seed"),
	)
	if boolField(p, "disable_displacement") {
		args = append(args, "--disable_displacement")
	}
	args = append(args, "--texture_resolution", strField(p, "texture_resolution"))
	args = append(args, multivalue("--input_meshes", dockerPrefixed(stageCtx, strSliceField(p, "input_meshes")))...)
	args = append(args, multivalue("--style_images_paths", dockerPrefixed(stageCtx, prefixEach("style_images/", strSliceField(p, "style_images"))))...)
	args = append(args, multivalue("--style_images_weights", strSliceField(p, "style_images_weights"))...)
	args = append(args, "--shadeless_strength", strField(p, "shadeless_strength"))
	args = append(args, multivalue("--loras", strSliceField(p, "loras"))...)
	args = append(args, multivalue("--loras_weights", strSliceField(p, "loras_weights"))...)
	args = append(args, multivalue("--stages_steps", strSliceField(p, "stages_steps"))...)
	if boolField(p, "disable_3d") {
		args = append(args, "--disable_3d")
	}
	args = append(args, multivalue("--stages_enable", strSliceField(p, "stages_enable"))...)
	if boolField(p, "apply_displacement_to_mesh") {
		args = append(args, "--apply_displacement_to_mesh")
	}
	args = append(args, multivalue("--direct_config_override", strSliceField(p, "direct_config_override"))...)
	args = append(args, multivalue("--stages_denoise", strSliceField(p, "stages_denoise"))...)
	args = append(args, "--displacement_quality", strField(p, "displacement_quality"))
	args = append(args, multivalue("--stages_upscale", strSliceField(p, "stages_upscale"))...)
	args = append(args, "--displacement_strength", strField(p, "displacement_strength"))
	args = append(args, "--displacement_rgb_derivation_weight", strField(p, "displacement_rgb_derivation_weight"))
	if boolField(p, "enable_4x_upscale") {
		args = append(args, "--enable_4x_upscale")
	}
	if boolField(p, "enable_semantics") {
		args = append(args, "--enable_semantics")
	}
	args = append(args, "--n_cameras", strField(p, "n_cameras"))
	args = append(args, multivalue("--camera_pitches", strSliceField(p, "camera_pitches"))...)
	args = append(args, multivalue("--camera_yaws", strSliceField(p, "camera_yaws"))...)
	args = append(args, "--total_remesh_mode", strField(p, "total_remesh_mode"))

	return args
}

func multivalue(flag string, values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string{flag}, values...)
}

func quoted(s string) string { return "'" + strings.Trim(s, "'") + "'" }

func dockerPrefixed(stageCtx map[string]any, names []string) []string {
	dockerInput := stageString(stageCtx, ctxDockerInputDir)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dockerInput, n)
	}
	return out
}

func prefixEach(prefix string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return out
}

func strField(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func boolField(p map[string]any, key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func strSliceField(p map[string]any, key string) []string {
	raw, ok := p[key]
	if !ok {
		return nil
	}
	switch vs := raw.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = fmt.Sprintf("%v", v)
		}
		return out
	default:
		return nil
	}
}
