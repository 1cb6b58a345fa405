// Package command holds the target-agnostic execution model: Target, RunSpec,
// Result, the Quoter and the error taxonomy. It has no knowledge of how a
// command is actually run — that is the adapters' job.
package command

import "fmt"

// Target identifies the destination of a run: the local host, an SSH host,
// a Docker container/daemon, or a Kubernetes pod. It is a closed sum type:
// only the four constructors in this file implement it.
type Target interface {
	// PoolKey is a stable string identifying the resource this target would
	// borrow from the ConnectionPool (host:port:user for SSH, daemon URL for
	// Docker, context+namespace for Kubernetes). Local has no pooled resource.
	PoolKey() string
	// Describe returns a human-readable, secret-free description for logs and errors.
	Describe() string
	target() // unexported marker, closes the sum type to this package's callers
}

// LocalTarget runs on the local host.
type LocalTarget struct{}

func (LocalTarget) PoolKey() string  { return "" }
func (LocalTarget) Describe() string { return "local" }
func (LocalTarget) target()          {}

// SSHAuthMethod names one authentication strategy, attempted in configured order.
type SSHAuthMethod string

// Recognized SSH authentication methods.
const (
	SSHAuthAgent      SSHAuthMethod = "agent"
	SSHAuthPrivateKey SSHAuthMethod = "privateKey"
	SSHAuthPassword   SSHAuthMethod = "password"
)

// SSHAuth describes the credentials available for an SSH target, and the
// order methods are attempted in (first configured, first tried).
type SSHAuth struct {
	Order             []SSHAuthMethod
	Agent             bool
	PrivateKeyPath    string
	PrivateKeyPass    string
	Password          string
}

// SudoMethod names a strategy for supplying a sudo password on a remote host.
type SudoMethod string

// Recognized sudo methods; SecureAskpass is the default and recommended method.
const (
	SudoSecureAskpass SudoMethod = "secure-askpass"
	SudoSecure        SudoMethod = "secure"
	SudoAskpass       SudoMethod = "askpass"
	SudoStdin         SudoMethod = "stdin"
	SudoEcho          SudoMethod = "echo" // deprecated, back-compat only
)

// SudoOptions configures sudo elevation for an SSH run.
type SudoOptions struct {
	Enabled  bool
	Method   SudoMethod
	Password string
	Prompt   string
}

// SSHTarget runs over an SSH exec channel.
type SSHTarget struct {
	Host         string
	Port         int // defaults to 22 when zero
	User         string
	Auth         SSHAuth
	JumpHosts    []SSHTarget
	Sudo         SudoOptions
	// StrictHostKey verifies the server's host key against KnownHostsPath.
	// When false (the zero value), host keys are not verified at all.
	StrictHostKey bool
	KnownHostsPath string
}

func (t SSHTarget) port() int {
	if t.Port == 0 {
		return 22
	}
	return t.Port
}

func (t SSHTarget) PoolKey() string {
	return fmt.Sprintf("ssh://%s@%s:%d", t.User, t.Host, t.port())
}

func (t SSHTarget) Describe() string {
	return fmt.Sprintf("ssh %s@%s:%d", t.User, t.Host, t.port())
}

func (SSHTarget) target() {}

// DockerDaemon addresses a Docker Engine: a local socket, a TCP endpoint
// (optionally TLS), or an SSH tunnel to a remote socket.
type DockerDaemon struct {
	// URL is one of unix://, tcp://, ssh://, or empty to mean DOCKER_HOST / the local default.
	URL string
	TLS bool
}

// DockerMode selects whether a run execs into an existing container or spins
// up an ephemeral one.
type DockerMode string

// Recognized Docker modes.
const (
	DockerModeExec     DockerMode = "exec"
	DockerModeEphemeral DockerMode = "ephemeral"
)

// DockerTarget runs inside a Docker container, local or remote.
type DockerTarget struct {
	Mode      DockerMode
	Container string // required for Mode=exec
	Image     string // required for Mode=ephemeral
	Daemon    DockerDaemon
	AutoRemove bool
	// TTY attaches a pseudo-terminal. The stream is then not multiplexed, so
	// stderr arrives merged into stdout and Result.Stderr stays empty.
	TTY       bool
	Ports     []string
	Binds     []string
}

func (t DockerTarget) PoolKey() string {
	url := t.Daemon.URL
	if url == "" {
		url = "default"
	}
	return "docker://" + url
}

func (t DockerTarget) Describe() string {
	if t.Mode == DockerModeEphemeral {
		return fmt.Sprintf("docker image=%s", t.Image)
	}
	return fmt.Sprintf("docker container=%s", t.Container)
}

func (DockerTarget) target() {}

// KubernetesTarget runs inside a pod via the pods/exec subresource.
type KubernetesTarget struct {
	Kubeconfig string
	Context    string
	Namespace  string
	Pod        string
	Container  string
	Shell      string // defaults to "sh"

	// NoEnvBinary switches cwd/env wrapping from "env -C ... NAME=value cmd"
	// to a "sh -c 'cd ...; export ...; exec ...'" form, for images minimal
	// enough to lack a coreutils env binary (e.g. distroless, scratch).
	NoEnvBinary bool
}

func (t KubernetesTarget) PoolKey() string {
	return fmt.Sprintf("k8s://%s/%s", t.Context, t.Namespace)
}

func (t KubernetesTarget) Describe() string {
	return fmt.Sprintf("k8s pod=%s/%s container=%s", t.Namespace, t.Pod, t.Container)
}

func (KubernetesTarget) target() {}
