package adapter

import (
	"context"
	"fmt"
	"strings"

	dockerconnhelper "github.com/docker/cli/cli/connhelper/ssh"
	"github.com/docker/docker/client"

	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/pool"
	"github.com/launchrctl/xec/pkg/runner"
)

// DockerAdapter uses the Docker Engine API to exec in an existing container
// or create+start+attach+wait an ephemeral one. Grounded on
// pkg/driver/docker.go's ContainerRunner implementation, generalized to the
// engine's RunSpec/Target model instead of an action's fixed build/run
// definitions.
type DockerAdapter struct {
	Pool *pool.Pool
}

// NewDockerAdapter builds a DockerAdapter borrowing daemon clients from p.
func NewDockerAdapter(p *pool.Pool) *DockerAdapter {
	return &DockerAdapter{Pool: p}
}

type dockerConn struct {
	cli *client.Client
}

func (c *dockerConn) Close() error { return c.cli.Close() }

func (c *dockerConn) Healthy(ctx context.Context) bool {
	_, err := c.cli.Ping(ctx)
	return err == nil
}

func (a *DockerAdapter) dialer(t command.DockerTarget) pool.Factory {
	return func(ctx context.Context) (pool.Connection, error) {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		switch {
		case strings.HasPrefix(t.Daemon.URL, "ssh://"):
			helper, err := dockerconnhelper.NewConnectionHelper(t.Daemon.URL)
			if err != nil {
				return nil, fmt.Errorf("docker: ssh daemon helper: %w", err)
			}
			opts = append(opts,
				client.WithHTTPClient(helper.Dialer),
				client.WithHost(helper.Host),
				client.WithDialContext(helper.Dialer.DialContext))
		case t.Daemon.URL != "":
			opts = append(opts, client.WithHost(t.Daemon.URL))
		}
		cli, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, fmt.Errorf("docker: client: %w", err)
		}
		return &dockerConn{cli: cli}, nil
	}
}

// Execute implements Adapter.
func (a *DockerAdapter) Execute(ctx context.Context, target command.Target, spec *command.RunSpec) (*runner.Handle, error) {
	t, ok := target.(command.DockerTarget)
	if !ok {
		return nil, command.NewError(command.KindSpawn, target, "", fmt.Errorf("docker adapter: target is %T, not DockerTarget", target))
	}

	conn, release, err := a.Pool.Acquire(ctx, t.PoolKey(), a.dialer(t))
	if err != nil {
		return nil, command.NewError(command.KindConnect, target, spec.Command.String(), err)
	}
	cli := conn.(*dockerConn).cli

	if t.Mode == command.DockerModeEphemeral {
		return a.execEphemeral(ctx, cli, release, target, t, spec)
	}
	return a.execInExisting(ctx, cli, release, target, t, spec)
}

func (a *DockerAdapter) argv(spec *command.RunSpec) []string {
	if spec.Command.Exec != nil {
		return spec.Command.Exec.Argv
	}
	shell := "sh"
	if spec.Command.Shell.Name != "" {
		shell = spec.Command.Shell.Name
	}
	return []string{shell, "-c", spec.Command.Shell.Script}
}

func (a *DockerAdapter) execEnv(spec *command.RunSpec) []string {
	env := make([]string, 0, len(spec.Env))
	for _, v := range spec.Env {
		env = append(env, v.Name+"="+v.Value)
	}
	return env
}
