package adapter

import (
	"context"
	"fmt"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// dockerExecWaiter adapts the exec-in-existing mode to runner.Waiter. The
// Engine API has no blocking "wait for exec" call, so Wait polls
// ContainerExecInspect, matching how the Docker CLI itself detects exec
// completion.
type dockerExecWaiter struct {
	cli         *client.Client
	execID      string
	containerID string
	hijacked    dockertypes.HijackedResponse
	release     func()
	closed      bool
}

func (w *dockerExecWaiter) Wait() (int, string, error) {
	ctx := context.Background()
	for {
		insp, err := w.cli.ContainerExecInspect(ctx, w.execID)
		if err != nil {
			return -1, "", fmt.Errorf("docker exec inspect: %w", err)
		}
		if !insp.Running {
			return insp.ExitCode, "", nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Signal delivers sig to this exec's own process. The Engine API has no
// per-exec signal verb, so it works around that the way the Docker CLI's own
// `docker exec --pid` tooling does: spawn a throwaway exec in the same
// container that sends the signal to this exec's inspected PID, leaving any
// other exec session sharing the container untouched.
func (w *dockerExecWaiter) Signal(sig string) error {
	ctx := context.Background()
	insp, err := w.cli.ContainerExecInspect(ctx, w.execID)
	if err != nil {
		return fmt.Errorf("docker exec inspect: %w", err)
	}
	if !insp.Running || insp.Pid == 0 {
		return nil // already exited, nothing to signal
	}
	killer, err := w.cli.ContainerExecCreate(ctx, w.containerID, dockertypes.ExecConfig{
		Cmd: []string{"kill", "-s", sig, fmt.Sprintf("%d", insp.Pid)},
	})
	if err != nil {
		return fmt.Errorf("docker: creating signal-delivery exec: %w", err)
	}
	return w.cli.ContainerExecStart(ctx, killer.ID, dockertypes.ExecStartCheck{})
}

func (w *dockerExecWaiter) Resize(rows, cols uint16) error {
	return w.cli.ContainerExecResize(context.Background(), w.execID, container.ResizeOptions{
		Height: uint(rows), Width: uint(cols),
	})
}

func (w *dockerExecWaiter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.hijacked.Close()
	w.release()
	return nil
}

// dockerEphemeralWaiter adapts the run-ephemeral mode to runner.Waiter,
// driven by ContainerWait's status channel.
type dockerEphemeralWaiter struct {
	cli         *client.Client
	containerID string
	hijacked    dockertypes.HijackedResponse
	statusCh    <-chan container.WaitResponse
	errCh       <-chan error
	release     func()
	autoRemove  bool
	closed      bool
}

func (w *dockerEphemeralWaiter) Wait() (int, string, error) {
	select {
	case err := <-w.errCh:
		return -1, "", fmt.Errorf("docker container wait: %w", err)
	case st := <-w.statusCh:
		if st.Error != nil {
			return -1, "", fmt.Errorf("docker container wait: %s", st.Error.Message)
		}
		return int(st.StatusCode), "", nil
	}
}

func (w *dockerEphemeralWaiter) Signal(sig string) error {
	return w.cli.ContainerKill(context.Background(), w.containerID, sig)
}

func (w *dockerEphemeralWaiter) Resize(rows, cols uint16) error {
	return w.cli.ContainerResize(context.Background(), w.containerID, container.ResizeOptions{
		Height: uint(rows), Width: uint(cols),
	})
}

func (w *dockerEphemeralWaiter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.hijacked.Close()
	if !w.autoRemove {
		_ = w.cli.ContainerRemove(context.Background(), w.containerID, container.RemoveOptions{RemoveVolumes: true})
	}
	w.release()
	return nil
}
