package stage

import "github.com/yungbote/pipeline-orchestrator/internal/config"

// RegisterAll wires every implemented stage into reg. Registration order
// doesn't matter (Registry keys by "pool.name"), but is kept in plan
// order for readability. cpu.stage_5 (refine_input_semantics) is
// deliberately left unregistered: original_source defines it only as a
// commented-out stub, and nothing in spec.md's planner ever schedules
// it — see DESIGN.md.
func RegisterAll(reg *Registry, cfg config.Settings) error {
	blender := cfg.BlenderImageRepo + ":" + cfg.QueueImageTag
	comfy := cfg.ComfyImageRepo + ":" + cfg.QueueImageTag

	handlers := []Handler{
		NewPlannerStage(blender),

		NewBlenderStage("cpu.stage_0", blender, "preprocess_input.py",
			"-i {massings_paths} -w /workdir/ -o {preprocessed_massings_path} --random_subset_size {random_subset_size}",
			false),

		NewBlenderStage("cpu.stage_1", blender, "render_priors.py",
			"/workdir/{preprocessed_massings_path} /workdir/{prior_renders_path}",
			false),

		NewGPUStage("gpu.stage_2", comfy,
			"python3 /workdir/sd_scripts/generate_textures.py "+
				"/workdir/{prior_renders_path} /workdir/{generated_textures_path} --config /workdir/{config_path} ",
			false),

		NewBlenderStage("cpu.stage_3", blender, "make_projected_rgb.py",
			"/workdir/{preprocessed_massings_path} /workdir/{prior_renders_path} "+
				"/workdir/{generated_textures_path}/ /workdir/{projection_output}",
			true),

		NewGPUStage("gpu.stage_4", comfy,
			"python3 /workdir/sd_scripts/generate_semantics.py "+
				"/workdir/{prior_renders_path} /workdir/{semantics_output_dir} --config /workdir/{config_path} ",
			true),

		NewBlenderStage("cpu.stage_6", blender, "make_total_recursive_grid.py",
			"/workdir/{preprocessed_massings_path} /workdir/{prior_renders_path} "+
				"/workdir/{generated_textures_path}/ /workdir/{total_grid_output_dir}",
			true),

		NewBlenderStage("gpu.stage_7", blender, "make_displacement_map.py",
			"/workdir/{preprocessed_massings_path} /workdir/{prior_renders_path} "+
				"/workdir/{generated_textures_path}/ /workdir/{displacement_output}",
			true),

		NewGPUStage("gpu.stage_8", comfy,
			"python3 /workdir/sd_scripts/upscale_textures.py "+
				"/workdir/{generated_textures_path} /workdir/{upscaled_textures_path} --config /workdir/{config_path} ",
			true),

		NewBlenderStage("cpu.stage_9", blender, "make_final_blend.py",
			"/workdir/{preprocessed_massings_path} /workdir/{prior_renders_path} "+
				"/workdir/{generated_textures_path} /workdir/{projection_output} /workdir/{displacement_output}/ "+
				"/workdir/{upscaled_textures_path} /workdir/{final_path}",
			true),

		NewCleanupStage(),
	}

	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
