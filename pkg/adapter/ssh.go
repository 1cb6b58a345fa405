package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/launchrctl/xec/pkg/command"
	"github.com/launchrctl/xec/pkg/pool"
	"github.com/launchrctl/xec/pkg/runner"
)

// SSHAdapter opens an exec channel through a pooled SSH transport, handling
// auth-method fallback, jump-host chaining and sudo elevation. Grounded on
// golang.org/x/crypto/ssh client usage observed in the corpus's sshproxy and
// mantle docker-test helpers, generalized from one-shot scripts into a
// pooled, sudo-aware adapter.
type SSHAdapter struct {
	Pool *pool.Pool
}

// NewSSHAdapter builds an SSHAdapter borrowing transports from p.
func NewSSHAdapter(p *pool.Pool) *SSHAdapter {
	return &SSHAdapter{Pool: p}
}

// sshConn adapts an *ssh.Client to pool.Connection.
type sshConn struct {
	client     *ssh.Client
	authMethod command.SSHAuthMethod
}

func (c *sshConn) Close() error { return c.client.Close() }

func (c *sshConn) Healthy(_ context.Context) bool {
	_, _, err := c.client.SendRequest("keepalive@xec", true, nil)
	return err == nil
}

// Execute implements Adapter.
func (a *SSHAdapter) Execute(ctx context.Context, target command.Target, spec *command.RunSpec) (*runner.Handle, error) {
	t, ok := target.(command.SSHTarget)
	if !ok {
		return nil, command.NewError(command.KindSpawn, target, "", fmt.Errorf("ssh adapter: target is %T, not SSHTarget", target))
	}

	conn, release, err := a.Pool.Acquire(ctx, t.PoolKey(), a.dialer(ctx, t))
	if err != nil {
		return nil, command.NewError(command.KindConnect, target, spec.Command.String(), err)
	}
	client := conn.(*sshConn).client

	session, err := client.NewSession()
	if err != nil {
		release()
		return nil, command.NewError(command.KindConnect, target, spec.Command.String(), fmt.Errorf("opening session: %w", err))
	}

	cmdText, cleanupAskpass, err := a.buildCommand(client, spec, t)
	if err != nil {
		_ = session.Close()
		release()
		return nil, command.NewError(command.KindSpawn, target, spec.Command.String(), err)
	}

	stdout, stderr := buildStdioSinks(spec)
	session.Stdout = stdout
	session.Stderr = stderr

	var stdinPipe io.WriteCloser
	if spec.Stdin.Kind == command.StdinBytes {
		session.Stdin = bytes.NewReader(spec.Stdin.Bytes)
	} else if spec.Stdin.Kind == command.StdinStream {
		session.Stdin = spec.Stdin.Stream
	} else {
		sp, _ := session.StdinPipe()
		stdinPipe = sp
	}

	if err := session.Start(cmdText); err != nil {
		cleanupAskpass()
		_ = session.Close()
		release()
		return nil, command.NewError(command.KindSpawn, target, spec.Command.String(), err)
	}

	w := &sshWaiter{session: session, release: release, cleanup: cleanupAskpass}
	grace := spec.GracePeriod
	if grace == 0 {
		grace = command.DefaultGracePeriod
	}
	killSig := spec.KillSignal
	if killSig == "" {
		killSig = command.DefaultKillSignal
	}
	h := runner.New(target, spec.Command.String(), w, stdout, stderr, stdinPipe, killSig, grace)
	if am := conn.(*sshConn).authMethod; am != "" {
		h.OnResult(func(r *command.Result) { r.AuthMethod = am })
	}
	return h, nil
}

// buildCommand assembles the final command string: env prefix, cd wrapper,
// and sudo wrapping per §4.3.2. Returns a cleanup func, which sshWaiter.Wait
// calls once the session has finished (Execute calls it if Start fails).
// The sudo wrappers return a no-op cleanup: the temp files they create are
// removed by an `rm -f` inside the wrapped command itself.
func (a *SSHAdapter) buildCommand(client *ssh.Client, spec *command.RunSpec, t command.SSHTarget) (string, func(), error) {
	base := spec.Command.String()
	if spec.Command.Exec != nil {
		base = command.POSIXQuoter.Join(spec.Command.Exec.Argv)
	}

	if len(spec.Env) > 0 {
		var b strings.Builder
		for _, v := range spec.Env {
			fmt.Fprintf(&b, "%s=%s ", v.Name, command.POSIXQuoter.Quote(v.Value))
		}
		base = b.String() + base
	}
	if spec.Cwd != "" {
		base = fmt.Sprintf("cd %s && %s", command.POSIXQuoter.Quote(spec.Cwd), base)
	}

	if !spec.Sudo.Enabled {
		return base, func() {}, nil
	}
	return wrapSudo(client, base, spec.Sudo)
}

// wrapSudo implements the five sudo methods from §4.3.2. secure-askpass and
// secure both stage the password out of argv/ps view; stdin/echo pipe it
// through the command's own stdin channel instead.
func wrapSudo(client *ssh.Client, cmd string, sudo command.SudoOptions) (string, func(), error) {
	switch sudo.Method {
	case command.SudoAskpass:
		return fmt.Sprintf("sudo -A %s", cmd), func() {}, nil

	case command.SudoStdin:
		return fmt.Sprintf("printf '%%s\\n' %s | sudo -S -p '' %s", command.POSIXQuoter.Quote(sudo.Password), cmd), func() {}, nil

	case command.SudoEcho:
		return fmt.Sprintf("echo %s | sudo -S -p '' %s", command.POSIXQuoter.Quote(sudo.Password), cmd), func() {}, nil

	case command.SudoSecure:
		return wrapSudoSecure(client, cmd, sudo.Password)

	default: // SudoSecureAskpass
		scriptPath := fmt.Sprintf("/tmp/askpass-%s.sh", uuid.NewString())
		script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' %s\n", command.POSIXQuoter.Quote(sudo.Password))
		upload := fmt.Sprintf(
			"printf '%%s' %s > %s && chmod 700 %s && SUDO_ASKPASS=%s sudo -A %s; rc=$?; rm -f %s; exit $rc",
			command.POSIXQuoter.Quote(script), scriptPath, scriptPath, scriptPath, cmd, scriptPath,
		)
		return upload, func() {}, nil
	}
}

// wrapSudoSecure implements the "secure" method: unlike secure-askpass, the
// password is never interpolated into any remote command or script body. It
// travels over its own session's stdin straight into a 0600 single-use temp
// file, and sudo -S reads it from there.
func wrapSudoSecure(client *ssh.Client, cmd, password string) (string, func(), error) {
	path := fmt.Sprintf("/tmp/sudopw-%s", uuid.NewString())

	upload, err := client.NewSession()
	if err != nil {
		return "", func() {}, fmt.Errorf("ssh secure sudo: opening upload session: %w", err)
	}
	upload.Stdin = strings.NewReader(password)
	runErr := upload.Run(fmt.Sprintf("umask 077 && cat > %s", path))
	_ = upload.Close()
	if runErr != nil {
		return "", func() {}, fmt.Errorf("ssh secure sudo: writing secret file: %w", runErr)
	}

	run := fmt.Sprintf("sudo -S -p '' %s < %s; rc=$?; rm -f %s; exit $rc", cmd, path, path)
	return run, func() {}, nil
}

// dialer builds the pool.Factory for target t: authenticate in configured
// order, chain through jump hosts, verify the host key per StrictHostKey.
func (a *SSHAdapter) dialer(_ context.Context, t command.SSHTarget) pool.Factory {
	return func(ctx context.Context) (pool.Connection, error) {
		var used command.SSHAuthMethod
		cfg, err := sshClientConfig(t, &used)
		if err != nil {
			return nil, err
		}

		addr := net.JoinHostPort(t.Host, strconv.Itoa(sshPortOrDefault(t)))
		client, err := dialThroughJumps(t, cfg, addr)
		if err != nil {
			return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
		}
		return &sshConn{client: client, authMethod: used}, nil
	}
}

func sshPortOrDefault(t command.SSHTarget) int {
	if t.Port == 0 {
		return 22
	}
	return t.Port
}

// dialThroughJumps establishes a direct-tcpip tunnel through each jump host
// in order, then dials the final target over the last tunnel.
func dialThroughJumps(t command.SSHTarget, cfg *ssh.ClientConfig, finalAddr string) (*ssh.Client, error) {
	if len(t.JumpHosts) == 0 {
		return ssh.Dial("tcp", finalAddr, cfg)
	}

	var (
		client *ssh.Client
		err    error
	)
	for i, jump := range t.JumpHosts {
		var jumpAuth command.SSHAuthMethod
		jumpCfg, cfgErr := sshClientConfig(jump, &jumpAuth)
		if cfgErr != nil {
			return nil, cfgErr
		}
		jumpAddr := net.JoinHostPort(jump.Host, strconv.Itoa(sshPortOrDefault(jump)))

		if i == 0 {
			client, err = ssh.Dial("tcp", jumpAddr, jumpCfg)
		} else {
			var conn net.Conn
			conn, err = client.Dial("tcp", jumpAddr)
			if err == nil {
				ncc, chans, reqs, hErr := ssh.NewClientConn(conn, jumpAddr, jumpCfg)
				if hErr != nil {
					err = hErr
				} else {
					client = ssh.NewClient(ncc, chans, reqs)
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("jump host %d (%s): %w", i, jumpAddr, err)
		}
	}

	conn, err := client.Dial("tcp", finalAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s through last jump: %w", finalAddr, err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, finalAddr, cfg)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

// sshClientConfig builds an *ssh.ClientConfig trying auth methods in the
// order configured on SSHAuth.Order (agent, privateKey, password). Every
// method that can be constructed is offered, in that order — failure to
// construct one method (e.g. no SSH_AUTH_SOCK) just skips it, and which
// offered method succeeds is left to the server.
// Whichever method the handshake actually uses is recorded into *used (the
// ssh package calls methods strictly in order and stops at the first that
// succeeds, so the last one recorded before a successful dial is it).
func sshClientConfig(t command.SSHTarget, used *command.SSHAuthMethod) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	order := t.Auth.Order
	if len(order) == 0 {
		order = []command.SSHAuthMethod{command.SSHAuthAgent, command.SSHAuthPrivateKey, command.SSHAuthPassword}
	}
	for _, m := range order {
		switch m {
		case command.SSHAuthAgent:
			if signers, err := agentAuthMethod(); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(recordingSigners(command.SSHAuthAgent, used, signers)))
			}
		case command.SSHAuthPrivateKey:
			if t.Auth.PrivateKeyPath != "" {
				if signers, err := privateKeyAuthMethod(t.Auth.PrivateKeyPath, t.Auth.PrivateKeyPass); err == nil {
					methods = append(methods, ssh.PublicKeysCallback(recordingSigners(command.SSHAuthPrivateKey, used, signers)))
				}
			}
		case command.SSHAuthPassword:
			if t.Auth.Password != "" {
				pw := t.Auth.Password
				methods = append(methods, ssh.PasswordCallback(func() (string, error) {
					*used = command.SSHAuthPassword
					return pw, nil
				}))
			}
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh: no usable auth method for %s", t.Describe())
	}

	hostKeyCallback, err := hostKeyCallback(t)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         20 * time.Second,
	}, nil
}

func hostKeyCallback(t command.SSHTarget) (ssh.HostKeyCallback, error) {
	if !t.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-out, documented on SSHTarget.StrictHostKey
	}
	path := t.KnownHostsPath
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("ssh: loading known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func agentAuthMethod() (func() ([]ssh.Signer, error), error) {
	sock, err := sshAuthSock()
	if err != nil {
		return nil, err
	}
	return agent.NewClient(sock).Signers, nil
}

// recordingSigners wraps a signer producer so the first time it's invoked
// during a handshake, name is recorded into *used — the ssh package calls
// auth methods strictly in order and stops at the first success, so the
// last one recorded before a successful dial is the one that actually won.
func recordingSigners(name command.SSHAuthMethod, used *command.SSHAuthMethod, fn func() ([]ssh.Signer, error)) func() ([]ssh.Signer, error) {
	return func() ([]ssh.Signer, error) {
		*used = name
		return fn()
	}
}
