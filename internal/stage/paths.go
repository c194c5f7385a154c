package stage

// The NN_<name> stage-output-path convention, taken verbatim from
// original_source/service/src/queues/cpu.py's prestage_0 (the segments it
// appends under context["output_dir"]/context["config_filename"]).
const (
	DirPreprocessedMassings = "00_preprocessed_massings"
	DirPriorRenders         = "01_priors"
	DirGeneratedTextures    = "02_gen_textures"
	DirProjection           = "03_projection"
	DirSemantics            = "04_semantics"
	DirRefinement           = "05_refinement"
	DirTotalGrid            = "06_total_grid"
	DirDisplacement         = "07_displacement"
	DirUpscale              = "08_upscale"
	DirFinalBlend           = "09_final_blend"
	DirFinalRender          = "99_final_render"
)

// contextKeys are the well-known string keys stashed in a job's context
// map across stages, mirroring the original's plain dict.
const (
	ctxTmpDir           = "tmp_dir"
	ctxLocalOutputDir   = "local_output_dir"
	ctxLocalInputDir    = "local_input_dir"
	ctxDockerOutputDir  = "docker_output_dir"
	ctxDockerInputDir   = "docker_input_dir"
	ctxConfigPath       = "config_path"
	ctxConfigFilename   = "config_filename"
	ctxRandomSubsetSize = "random_subset_size"
	ctxOutputDir        = "output_dir"
	ctxMassingsPaths    = "massings_paths"

	ctxPreprocessedMassingsPath = "preprocessed_massings_path"
	ctxPriorRendersPath         = "prior_renders_path"
	ctxGeneratedTexturesPath    = "generated_textures_path"
	ctxSemanticsOutputDir       = "semantics_output_dir"
	ctxProjectionOutput         = "projection_output"
	ctxRefinementOutputDir      = "refinement_output_dir"
	ctxTotalGridOutputDir       = "total_grid_output_dir"
	ctxDisplacementOutput       = "displacement_output"
	ctxUpscaledTexturesPath     = "upscaled_textures_path"
	ctxFinalPath                = "final_path"
	ctxFinalRender              = "final_render"
)
