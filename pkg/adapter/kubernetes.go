package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	corev1 "k8s.io/api/core/v1"
	k8sexec "k8s.io/client-go/util/exec"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/pool"
	"github.com/launchrctl/xec/pkg/runner"
)

// KubernetesAdapter runs inside a pod/container via the pods/exec
// subresource over SPDY (default, per DESIGN.md's open-question decision).
// Grounded on pkg/driver/kubernetes.go's containerExec, generalized from a
// fixed ContainerDefinition to the engine's RunSpec model.
type KubernetesAdapter struct {
	Pool *pool.Pool
}

// NewKubernetesAdapter builds a KubernetesAdapter borrowing clientsets from p.
func NewKubernetesAdapter(p *pool.Pool) *KubernetesAdapter {
	return &KubernetesAdapter{Pool: p}
}

type k8sConn struct {
	config    *restclient.Config
	clientset *kubernetes.Clientset
}

func (c *k8sConn) Close() error { return nil } // no persistent transport to tear down

func (c *k8sConn) Healthy(ctx context.Context) bool {
	_, err := c.clientset.Discovery().ServerVersion()
	return err == nil
}

func (a *KubernetesAdapter) dialer(t command.KubernetesTarget) pool.Factory {
	return func(_ context.Context) (pool.Connection, error) {
		cfg, err := loadKubeConfig(t.Kubeconfig, t.Context)
		if err != nil {
			return nil, fmt.Errorf("k8s: loading config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("k8s: building clientset: %w", err)
		}
		return &k8sConn{config: cfg, clientset: clientset}, nil
	}
}

func loadKubeConfig(path, context string) (*restclient.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// Execute implements Adapter.
func (a *KubernetesAdapter) Execute(ctx context.Context, target command.Target, spec *command.RunSpec) (*runner.Handle, error) {
	t, ok := target.(command.KubernetesTarget)
	if !ok {
		return nil, command.NewError(command.KindSpawn, target, "", fmt.Errorf("kubernetes adapter: target is %T, not KubernetesTarget", target))
	}

	conn, release, err := a.Pool.Acquire(ctx, t.PoolKey(), a.dialer(t))
	if err != nil {
		return nil, command.NewError(command.KindConnect, target, spec.Command.String(), err)
	}
	kc := conn.(*k8sConn)

	argv := a.argv(spec, t)

	req := kc.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(t.Pod).
		Namespace(t.Namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: t.Container,
		Command:   argv,
		Stdin:     spec.Stdin.Kind != command.StdinNone,
		Stdout:    true,
		Stderr:    true,
		TTY:       false,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(kc.config, "POST", req.URL())
	if err != nil {
		release()
		return nil, command.NewError(command.KindConnect, target, spec.Command.String(), fmt.Errorf("k8s: building executor: %w", err))
	}

	stdout, stderr := buildStdioSinks(spec)
	var stdinReader io.Reader
	switch spec.Stdin.Kind {
	case command.StdinBytes:
		stdinReader = bytes.NewReader(spec.Stdin.Bytes)
	case command.StdinStream:
		stdinReader = spec.Stdin.Stream
	}

	resizeCh := make(chan remotecommand.TerminalSize, 1)
	done := make(chan error, 1)
	go func() {
		done <- executor.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdin:             stdinReader,
			Stdout:            stdout,
			Stderr:            stderr,
			Tty:               false,
			TerminalSizeQueue: sizeQueue{resizeCh},
		})
	}()

	w := &k8sWaiter{done: done, resizeCh: resizeCh, release: release}
	grace := spec.GracePeriod
	if grace == 0 {
		grace = command.DefaultGracePeriod
	}
	killSig := spec.KillSignal
	if killSig == "" {
		killSig = command.DefaultKillSignal
	}
	var stdinPipe io.WriteCloser // channel 0 is fed once at Stream start, not incrementally writable post-hoc
	return runner.New(target, spec.Command.String(), w, stdout, stderr, stdinPipe, killSig, grace), nil
}

// argv realizes §4.3.4: command is always argv; Shell mode becomes
// [shell, -c, script] with shell defaulting to the target's configured
// shell or "sh". cwd/env are applied by wrapping with "env -C", falling
// back to a "sh -c 'cd ...; export ...; exec ...'" form when requested.
func (a *KubernetesAdapter) argv(spec *command.RunSpec, t command.KubernetesTarget) []string {
	var inner []string
	if spec.Command.Exec != nil {
		inner = spec.Command.Exec.Argv
	} else {
		shell := t.Shell
		if shell == "" {
			shell = "sh"
		}
		inner = []string{shell, "-c", spec.Command.Shell.Script}
	}

	if spec.Cwd == "" && len(spec.Env) == 0 {
		return inner
	}

	if t.NoEnvBinary {
		return fallbackArgv(spec, inner)
	}

	wrapped := []string{"env"}
	if spec.Cwd != "" {
		wrapped = append(wrapped, "-C", spec.Cwd)
	}
	for _, v := range spec.Env {
		wrapped = append(wrapped, v.Name+"="+v.Value)
	}
	wrapped = append(wrapped, inner...)
	return wrapped
}

// fallbackArgv is used when the remote image has no "env" binary
// (KubernetesTarget.NoEnvBinary).
func fallbackArgv(spec *command.RunSpec, inner []string) []string {
	var b strings.Builder
	if spec.Cwd != "" {
		fmt.Fprintf(&b, "cd %s; ", command.POSIXQuoter.Quote(spec.Cwd))
	}
	for _, v := range spec.Env {
		fmt.Fprintf(&b, "export %s=%s; ", v.Name, command.POSIXQuoter.Quote(v.Value))
	}
	b.WriteString("exec ")
	b.WriteString(command.POSIXQuoter.Join(inner))
	return []string{"sh", "-c", b.String()}
}

type sizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func (q sizeQueue) Next() *remotecommand.TerminalSize {
	s, ok := <-q.ch
	if !ok {
		return nil
	}
	return &s
}

// k8sWaiter adapts remotecommand's blocking Stream call to runner.Waiter.
// Channel 3 (error) status is surfaced by StreamWithContext returning a
// k8sexec.CodeExitError rather than a raw channel read, per client-go's API.
type k8sWaiter struct {
	done     chan error
	resizeCh chan remotecommand.TerminalSize
	release  func()
	closed   bool
}

func (w *k8sWaiter) Wait() (int, string, error) {
	err := <-w.done
	if err == nil {
		return 0, "", nil
	}
	var exitErr k8sexec.CodeExitError
	if ee, ok := err.(k8sexec.CodeExitError); ok { //nolint:errorlint // CodeExitError is returned directly, not wrapped
		exitErr = ee
		return exitErr.Code, "", nil
	}
	return -1, "", err
}

func (w *k8sWaiter) Signal(_ string) error {
	// pods/exec has no out-of-band signal channel; cancelling the context
	// passed to Execute (which closes all channels) is the only way to stop
	// the stream. Handle.Kill only calls Signal, so it does not stop a
	// Kubernetes run.
	return fmt.Errorf("kubernetes: out-of-band signal delivery is not supported, cancel the run's context instead")
}

func (w *k8sWaiter) Resize(rows, cols uint16) error {
	select {
	case w.resizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}:
		return nil
	default:
		return fmt.Errorf("kubernetes: resize queue full")
	}
}

func (w *k8sWaiter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.resizeCh)
	w.release()
	return nil
}
