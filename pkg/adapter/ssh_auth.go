package adapter

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
)

// sshAuthSock dials the agent socket named by SSH_AUTH_SOCK.
func sshAuthSock() (net.Conn, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("ssh: SSH_AUTH_SOCK not set")
	}
	return net.Dial("unix", sock)
}

// privateKeyAuthMethod loads and (optionally) decrypts a private key file,
// returning a signer producer suitable for ssh.PublicKeysCallback.
func privateKeyAuthMethod(path, passphrase string) (func() ([]ssh.Signer, error), error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304 path is operator-supplied SSHTarget config
	if err != nil {
		return nil, fmt.Errorf("ssh: reading private key %s: %w", path, err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("ssh: parsing private key %s: %w", path, err)
	}
	return func() ([]ssh.Signer, error) { return []ssh.Signer{signer}, nil }, nil
}
