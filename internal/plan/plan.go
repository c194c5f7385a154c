// Package plan is the pure planner described in spec.md §4.5: it turns a
// validated submission's boolean flags into the ordered "pool.stage_name"
// step list a Job is frozen with at creation, grounded on
// original_source/service/src/routes/schedule_job.py's filter(None, [...])
// step-building idiom, reimplemented as an explicit, testable function
// rather than a list comprehension with side effects.
package plan

import "fmt"

// SupportedLoras is the closed set §4.5 validates `loras` entries against.
// original_source does not enumerate it explicitly in the revision this
// spec was distilled from; this list is the Open-Question-free minimum
// the validation rule requires to exist.
var SupportedLoras = map[string]bool{
	"detail_enhancer":  true,
	"stylized_shading": true,
	"hard_surface":     true,
	"organic_surface":  true,
}

var supportedRemeshModes = map[string]bool{
	"none":                  true,
	"smooth_generic":        true,
	"sharp_generic":         true,
	"smooth_organic":        true,
	"none_organic":          true,
	"hard_surface":          true,
	"smoothed_hard_surface": true,
}

var supportedDepthAlgorithms = map[string]bool{
	"Marigold":        true,
	"DepthAnythingV2": true,
}

// Submission is the subset of the full submission payload the planner and
// its validation rules depend on. The HTTP handler decodes the full
// multipart form into this (plus opaque pass-through fields) before
// calling Validate/Plan.
type Submission struct {
	DisableDisplacement    bool
	Disable3D              bool
	EnableSemantics        bool
	EnableUVTextureUpscale bool
	EnableTotalGrid        bool

	NumStyleImages   int
	StyleImagesWeights []float64

	Loras       []string
	LorasWeights []float64

	NCameras      int
	CameraYaws    []float64
	CameraPitches []float64

	TotalRemeshMode string
	DepthAlgorithm  string
}

// Validate enforces spec.md §4.5's pre-planning rules. It returns the
// first violated rule as an error; the HTTP handler wraps this in a 422
// per §7's Validation error policy.
func Validate(s Submission) error {
	if err := validateStyleImageWeights(s); err != nil {
		return err
	}
	if err := validateLoras(s); err != nil {
		return err
	}
	if s.EnableUVTextureUpscale && s.Disable3D {
		return fmt.Errorf("enable_uv_texture_upscale is incompatible with disable_3d")
	}
	if err := validateCardinality("camera_yaws", len(s.CameraYaws), s.NCameras); err != nil {
		return err
	}
	if err := validateCardinality("camera_pitches", len(s.CameraPitches), s.NCameras); err != nil {
		return err
	}
	if s.TotalRemeshMode != "" && !supportedRemeshModes[s.TotalRemeshMode] {
		return fmt.Errorf("unsupported total_remesh_mode %q", s.TotalRemeshMode)
	}
	if s.DepthAlgorithm != "" && !supportedDepthAlgorithms[s.DepthAlgorithm] {
		return fmt.Errorf("unsupported depth_algorithm %q", s.DepthAlgorithm)
	}
	return nil
}

func validateStyleImageWeights(s Submission) error {
	n := len(s.StyleImagesWeights)
	if n == s.NumStyleImages || n == 3*s.NumStyleImages {
		return nil
	}
	return fmt.Errorf(
		"style_images_weights has %d entries, expected %d or %d for %d style image(s)",
		n, s.NumStyleImages, 3*s.NumStyleImages, s.NumStyleImages,
	)
}

func validateLoras(s Submission) error {
	if len(s.LorasWeights) != len(s.Loras) {
		return fmt.Errorf("loras_weights has %d entries but loras has %d", len(s.LorasWeights), len(s.Loras))
	}
	for _, l := range s.Loras {
		if !SupportedLoras[l] {
			return fmt.Errorf("unsupported lora %q", l)
		}
	}
	return nil
}

// validateCardinality implements |camera_yaws| ∈ {1, n_cameras} (and the
// identical rule for camera_pitches).
func validateCardinality(field string, n, nCameras int) error {
	if n == 1 || n == nCameras {
		return nil
	}
	return fmt.Errorf("%s has %d entries, expected 1 or %d", field, n, nCameras)
}

// Plan is the pure step-list builder. Equal Submission flag values always
// produce an equal step list (the "Plan determinism" law in spec.md §8).
func Plan(s Submission) []string {
	steps := []string{"cpu.prestage_0", "cpu.stage_0", "cpu.stage_1", "gpu.stage_2"}

	if !s.Disable3D {
		steps = append(steps, "cpu.stage_3")
	}
	if s.EnableSemantics {
		steps = append(steps, "gpu.stage_4")
	}
	if s.EnableTotalGrid {
		steps = append(steps, "cpu.stage_6")
	}
	if !s.DisableDisplacement {
		steps = append(steps, "gpu.stage_7")
	}
	if s.EnableUVTextureUpscale && !s.Disable3D {
		steps = append(steps, "gpu.stage_8")
	}
	if !s.Disable3D {
		steps = append(steps, "cpu.stage_9")
	}
	steps = append(steps, "cpu.cleanup")

	return steps
}
