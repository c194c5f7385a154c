package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubHandler struct{ id string }

func (s *stubHandler) Identifier() string { return s.id }
func (s *stubHandler) Run(ctx context.Context, rc *RunContext) Outcome {
	return Success("ok")
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{id: "cpu.stage_0"}))

	h, ok := reg.Get("cpu.stage_0")
	require.True(t, ok)
	require.Equal(t, "cpu.stage_0", h.Identifier())

	_, ok = reg.Get("cpu.stage_unknown")
	require.False(t, ok)
}

func TestRegisterRejectsDuplicateIdentifier(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{id: "cpu.stage_0"}))
	err := reg.Register(&stubHandler{id: "cpu.stage_0"})
	require.Error(t, err)
}

func TestRegisterRejectsMalformedIdentifier(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubHandler{id: "stage_0"})
	require.Error(t, err)
}

func TestRegisterRejectsNilHandler(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(nil))
}

func TestPoolAndNameSplitStepIdentifier(t *testing.T) {
	require.Equal(t, "cpu", Pool("cpu.stage_0"))
	require.Equal(t, "stage_0", Name("cpu.stage_0"))
	require.Equal(t, "gpu", Pool("gpu.stage_2"))
	require.Equal(t, "stage_2", Name("gpu.stage_2"))
}

func TestOutcomeSuccessAndFatal(t *testing.T) {
	ok := Success("log line")
	require.True(t, ok.OK())
	require.Equal(t, "log line", ok.Log())

	bad := Fatal("err log", "traceback detected")
	require.False(t, bad.OK())
	require.Equal(t, "traceback detected", bad.Reason())
}
