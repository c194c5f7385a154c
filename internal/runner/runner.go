// Package runner is the container runner described in spec.md §4.2,
// grounded on github.com/fsouza/go-dockerclient as used in
// gravitational-gravity's lib/app/docker package (CreateContainer,
// RemoveContainer, InspectImage idioms) — the one real Docker client
// library present anywhere in the retrieved example corpus.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	dockerapi "github.com/fsouza/go-dockerclient"

	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

// memoryCeilingBytes is spec.md §4.2's "~16 GiB" container memory ceiling.
const memoryCeilingBytes = 16 * 1024 * 1024 * 1024

// exitCodeErrorSentinel is the exact string spec.md §4.2 requires the
// shell trap to emit on ERR/INT, so a non-zero exit is detectable from
// logs even when the platform running the container strips exit codes.
const exitCodeErrorSentinel = "ExitCodeError"

// readTimeout bounds how long wait_container will block reading the
// docker log stream before treating the hang as a fatal timeout, per
// §4.2's outcome-classification priority list.
var readTimeout = 10 * time.Minute

// Spec describes one container invocation: the image, the three-path
// volume layout, the shell command template, and whether it needs a GPU
// device request.
type Spec struct {
	Image           string
	CommandTemplate string
	Context         map[string]any

	LocalInputDir   string
	LocalOutputDir  string
	DockerInputDir  string
	DockerOutputDir string
	// CompatOutputAlias is the "compatibility alias of the output dir at
	// a fixed internal path" spec.md §4.2 requires — original_source's
	// gpu.py binds local_output_dir a second time at
	// /workdir/blender_workdir/job/output so legacy scripts that assume
	// that fixed path still find generated assets.
	CompatOutputAlias string

	NeedGPU bool

	// ContainerName must be deterministic ({task_function}-{task_id})
	// so cancellation (§4.9) can target it by name.
	ContainerName string
}

type Runner interface {
	// Run launches the container, waits for completion, classifies the
	// outcome, and always removes the container before returning.
	Run(ctx context.Context, spec Spec) (log string, err error)

	// Kill force-removes the container with the given deterministic
	// name, used by the cancellation endpoint (§4.9) to implement
	// revoke's "kill the deterministically-named container" semantic.
	Kill(ctx context.Context, containerName string) error
}

// FatalError is returned by Run when the container's outcome classifies
// as fatal per §4.2 (timeout, Traceback in logs, or the ExitCodeError
// sentinel). The stage package's runContainerStage, which stage handlers
// call to run their container, converts this into a
// stage.Fatal(log, reason) outcome.
type FatalError struct {
	Log    string
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("container failed: %s", e.Reason)
}

type dockerRunner struct {
	log    *logger.Logger
	client *dockerapi.Client
}

func New(log *logger.Logger) (Runner, error) {
	client, err := dockerapi.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}
	return &dockerRunner{log: log.With("service", "runner"), client: client}, nil
}

func (r *dockerRunner) Run(ctx context.Context, spec Spec) (string, error) {
	cmd := interpolate(spec.CommandTemplate, spec.Context)
	wrapped := wrapWithTrap(cmd)

	binds := []string{
		fmt.Sprintf("%s:%s", spec.LocalInputDir, spec.DockerInputDir),
		fmt.Sprintf("%s:%s", spec.LocalOutputDir, spec.DockerOutputDir),
	}
	if spec.CompatOutputAlias != "" {
		binds = append(binds, fmt.Sprintf("%s:%s", spec.LocalOutputDir, spec.CompatOutputAlias))
	}

	hostConfig := &dockerapi.HostConfig{
		Binds:      binds,
		Memory:     memoryCeilingBytes,
		AutoRemove: false, // we remove explicitly after classifying outcome
	}
	if spec.NeedGPU {
		hostConfig.DeviceRequests = []dockerapi.DeviceRequest{
			{Capabilities: [][]string{{"gpu"}}},
		}
	}

	container, err := r.client.CreateContainer(dockerapi.CreateContainerOptions{
		Name: spec.ContainerName,
		Config: &dockerapi.Config{
			Image: spec.Image,
			Cmd:   []string{"bash", "-c", wrapped},
			Env:   []string{"OPENCV_IO_ENABLE_OPENEXR=1"},
		},
		HostConfig: hostConfig,
		Context:    ctx,
	})
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := r.client.StartContainerWithContext(container.ID, hostConfig, ctx); err != nil {
		_ = r.forceRemove(container.ID)
		return "", fmt.Errorf("start container: %w", err)
	}

	logs, waitErr := r.waitContainer(ctx, container.ID)
	_ = r.forceRemove(container.ID)
	return logs, waitErr
}

// waitContainer implements spec.md §4.2's wait_container: stream logs to
// EOF, then classify in priority order — read timeout, Traceback
// substring, ExitCodeError sentinel, else success.
func (r *dockerRunner) waitContainer(ctx context.Context, containerID string) (string, error) {
	var buf bytes.Buffer

	done := make(chan error, 1)
	go func() {
		done <- r.client.Logs(dockerapi.LogsOptions{
			Context:      ctx,
			Container:    containerID,
			OutputStream: &buf,
			ErrorStream:  &buf,
			Stdout:       true,
			Stderr:       true,
			Timestamps:   true,
			Follow:       true,
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return buf.String(), fmt.Errorf("stream container logs: %w", err)
		}
	case <-time.After(readTimeout):
		_ = r.forceRemove(containerID)
		return buf.String(), &FatalError{Log: buf.String(), Reason: "read timeout waiting for container logs"}
	}

	logs := buf.String()
	if strings.Contains(logs, "Traceback") {
		return logs, &FatalError{Log: logs, Reason: "traceback detected in container logs"}
	}
	if strings.Contains(logs, exitCodeErrorSentinel) {
		return logs, &FatalError{Log: logs, Reason: "non-zero exit detected via ExitCodeError sentinel"}
	}
	return logs, nil
}

func (r *dockerRunner) forceRemove(containerID string) error {
	return r.client.RemoveContainer(dockerapi.RemoveContainerOptions{ID: containerID, Force: true, RemoveVolumes: true})
}

// Kill force-removes a container by its deterministic name, ignoring a
// not-found error since cancellation may race with natural completion.
func (r *dockerRunner) Kill(ctx context.Context, containerName string) error {
	err := r.client.RemoveContainer(dockerapi.RemoveContainerOptions{ID: containerName, Force: true, RemoveVolumes: true})
	if err != nil {
		if _, ok := err.(*dockerapi.NoSuchContainer); ok {
			return nil
		}
	}
	return err
}

// interpolate fills {name} placeholders in template from context, the Go
// analogue of Python's command.format(**context).
func interpolate(template string, context map[string]any) string {
	out := template
	for k, v := range context {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	return out
}

// wrapWithTrap enables `-e -x` and installs a trap emitting the
// ExitCodeError sentinel on ERR/INT, per spec.md §4.2.
func wrapWithTrap(cmd string) string {
	return fmt.Sprintf(
		"set -ex; trap 'echo %s' ERR INT; %s",
		exitCodeErrorSentinel, cmd,
	)
}

// ContainerName builds the deterministic name spec.md §4.2 and §4.9
// require: "{task_function}-{task_id}".
func ContainerName(taskFunction, taskID string) string {
	return fmt.Sprintf("%s-%s", taskFunction, taskID)
}
