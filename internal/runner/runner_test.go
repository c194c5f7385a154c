package runner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpolateFillsPlaceholders(t *testing.T) {
	got := interpolate("run {script} --in {input_dir} --n {count}", map[string]any{
		"script":    "generate.py",
		"input_dir": "/workdir/00_preprocessed_massings",
		"count":     4,
	})
	require.Equal(t, "run generate.py --in /workdir/00_preprocessed_massings --n 4", got)
}

func TestInterpolateLeavesUnknownPlaceholdersUntouched(t *testing.T) {
	got := interpolate("run {script} --flag {unknown}", map[string]any{"script": "a.py"})
	require.Equal(t, "run a.py --flag {unknown}", got)
}

func TestWrapWithTrapInstallsExitCodeSentinel(t *testing.T) {
	wrapped := wrapWithTrap("python3 a.py")
	require.Contains(t, wrapped, "trap 'echo ExitCodeError' ERR INT")
	require.Contains(t, wrapped, "python3 a.py")
	require.Contains(t, wrapped, "set -ex")
}

func TestContainerNameIsDeterministic(t *testing.T) {
	require.Equal(t, "cpu.stage_0-abc123", ContainerName("cpu.stage_0", "abc123"))
}

func TestFatalErrorMessage(t *testing.T) {
	err := &FatalError{Log: "...", Reason: "traceback detected in container logs"}
	require.Equal(t, "container failed: traceback detected in container logs", err.Error())
}
