package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_Scenario1(t *testing.T) {
	got := Plan(Submission{
		Disable3D:              false,
		DisableDisplacement:    true,
		EnableSemantics:        false,
		EnableUVTextureUpscale: false,
	})
	assert.Equal(t, []string{
		"cpu.prestage_0", "cpu.stage_0", "cpu.stage_1", "gpu.stage_2",
		"cpu.stage_3", "cpu.stage_9", "cpu.cleanup",
	}, got)
}

func TestPlan_Scenario2(t *testing.T) {
	got := Plan(Submission{
		Disable3D:              true,
		DisableDisplacement:    true,
		EnableSemantics:        false,
		EnableUVTextureUpscale: false,
	})
	assert.Equal(t, []string{
		"cpu.prestage_0", "cpu.stage_0", "cpu.stage_1", "gpu.stage_2", "cpu.cleanup",
	}, got)
}

func TestPlan_SemanticsInsertsStage4BeforeDisplacement(t *testing.T) {
	got := Plan(Submission{
		Disable3D:              false,
		DisableDisplacement:    false,
		EnableSemantics:        true,
		EnableUVTextureUpscale: false,
	})
	idx4 := indexOf(got, "gpu.stage_4")
	idx7 := indexOf(got, "gpu.stage_7")
	require.GreaterOrEqual(t, idx4, 0)
	require.GreaterOrEqual(t, idx7, 0)
	assert.Less(t, idx4, idx7)

	count4 := 0
	for _, s := range got {
		if s == "gpu.stage_4" {
			count4++
		}
	}
	assert.Equal(t, 1, count4)
}

func TestPlan_TotalGridInsertedBeforeDisplacementOnlyWhenEnabled(t *testing.T) {
	without := Plan(Submission{EnableTotalGrid: false})
	assert.NotContains(t, without, "cpu.stage_6")

	got := Plan(Submission{EnableTotalGrid: true, DisableDisplacement: false})
	idx6 := indexOf(got, "cpu.stage_6")
	idx7 := indexOf(got, "gpu.stage_7")
	require.GreaterOrEqual(t, idx6, 0)
	require.GreaterOrEqual(t, idx7, 0)
	assert.Less(t, idx6, idx7)
}

func TestPlan_Determinism(t *testing.T) {
	s := Submission{Disable3D: false, EnableSemantics: true, NCameras: 2,
		CameraYaws: []float64{0, 90}, CameraPitches: []float64{0, 0}}
	a := Plan(s)
	b := Plan(s)
	assert.Equal(t, a, b)
}

func TestPlan_FullPipelineAppendsUpscaleAndCleanupLast(t *testing.T) {
	got := Plan(Submission{
		Disable3D:              false,
		DisableDisplacement:    false,
		EnableSemantics:        true,
		EnableUVTextureUpscale: true,
	})
	assert.Equal(t, "cpu.cleanup", got[len(got)-1])
	assert.Contains(t, got, "gpu.stage_8")
}

func TestValidate_Disable3DIncompatibleWithUpscale(t *testing.T) {
	err := Validate(Submission{
		Disable3D:              true,
		EnableUVTextureUpscale: true,
		NumStyleImages:         0,
	})
	require.Error(t, err)
}

func TestValidate_EmptyLorasIsValid(t *testing.T) {
	err := Validate(Submission{Loras: nil, LorasWeights: nil, NCameras: 1, CameraYaws: []float64{0}, CameraPitches: []float64{0}})
	require.NoError(t, err)
}

func TestValidate_MismatchedLorasRejected(t *testing.T) {
	err := Validate(Submission{
		Loras:        []string{"detail_enhancer"},
		LorasWeights: []float64{},
		NCameras:     1, CameraYaws: []float64{0}, CameraPitches: []float64{0},
	})
	require.Error(t, err)
}

func TestValidate_UnsupportedLoraRejected(t *testing.T) {
	err := Validate(Submission{
		Loras:        []string{"not_a_real_lora"},
		LorasWeights: []float64{1},
		NCameras:     1, CameraYaws: []float64{0}, CameraPitches: []float64{0},
	})
	require.Error(t, err)
}

func TestValidate_StyleImageWeightsCardinality(t *testing.T) {
	cases := []struct {
		name    string
		n       int
		weights int
		wantErr bool
	}{
		{"equal count ok", 2, 2, false},
		{"triple count ok", 2, 6, false},
		{"mismatched rejected", 2, 4, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(Submission{
				NumStyleImages:     tc.n,
				StyleImagesWeights: make([]float64, tc.weights),
				NCameras:           1, CameraYaws: []float64{0}, CameraPitches: []float64{0},
			})
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_CameraCardinality(t *testing.T) {
	err := Validate(Submission{
		NCameras:      3,
		CameraYaws:    []float64{0, 90},
		CameraPitches: []float64{0},
	})
	require.Error(t, err)

	err = Validate(Submission{
		NCameras:      3,
		CameraYaws:    []float64{0},
		CameraPitches: []float64{0},
	})
	require.NoError(t, err)
}

func TestValidate_RemeshAndDepthEnums(t *testing.T) {
	ok := Submission{NCameras: 1, CameraYaws: []float64{0}, CameraPitches: []float64{0},
		TotalRemeshMode: "hard_surface", DepthAlgorithm: "Marigold"}
	require.NoError(t, Validate(ok))

	bad := ok
	bad.TotalRemeshMode = "not_a_mode"
	require.Error(t, Validate(bad))

	bad2 := ok
	bad2.DepthAlgorithm = "not_an_algo"
	require.Error(t, Validate(bad2))
}

func indexOf(ss []string, target string) int {
	for i, s := range ss {
		if s == target {
			return i
		}
	}
	return -1
}
