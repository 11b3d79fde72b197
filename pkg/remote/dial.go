package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"github.com/quocson95/duopane/pkg/storage"
	"golang.org/x/crypto/ssh"
)

// Dial connects to the profile's host, authenticates with its credential and
// opens the SFTP channel. Cancelling ctx aborts the attempt and closes
// whatever was already established.
func Dial(ctx context.Context, profile storage.Profile, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	s := newSession(profile, opts)
	s.setStatus(StatusConnecting, "")

	conn, files, err := dial(ctx, profile, opts)
	if err != nil {
		s.setStatus(StatusDisconnected, err.Error())
		return nil, err
	}

	s.attach(conn, files)
	slog.Info("remote session connected", "target", profile.Key().String(), "auth", profile.Auth)
	return s, nil
}

func dial(ctx context.Context, profile storage.Profile, opts Options) (*ssh.Client, fileChannel, error) {
	auth, err := authMethods(profile.Auth)
	if err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(profile.Host, strconv.Itoa(profile.Port))
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("connect to %s cancelled: %w", addr, ctx.Err())
		}
		return nil, nil, &ConnError{Kind: KindNetwork, Reason: fmt.Sprintf("cannot reach %s", addr), Err: err}
	}

	// The handshake and channel setup do not take a context; closing the
	// socket unblocks them.
	stop := context.AfterFunc(ctx, func() { raw.Close() })

	config := &ssh.ClientConfig{
		User:            profile.User,
		Auth:            auth,
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         opts.DialTimeout,
	}
	client, files, err := handshake(newIdleConn(raw, opts.IdleTimeout), addr, config)

	if !stop() {
		if err == nil {
			files.Close()
			client.Close()
		}
		raw.Close()
		return nil, nil, fmt.Errorf("connect to %s cancelled: %w", addr, ctx.Err())
	}
	if err != nil {
		raw.Close()
		return nil, nil, err
	}
	return client, files, nil
}

func handshake(conn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, fileChannel, error) {
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, nil, classifyHandshake(addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, &ConnError{Kind: KindProtocol, Reason: "failed to open sftp channel", Err: err}
	}
	return client, sftpChannel{sftpClient}, nil
}

// authMethods turns a credential into ssh auth methods
func authMethods(cred storage.Credential) ([]ssh.AuthMethod, error) {
	switch cred.Kind() {
	case storage.AuthPassword:
		secret := cred.Secret()
		return []ssh.AuthMethod{
			ssh.Password(secret),
			// Some servers only offer keyboard-interactive for passwords
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = secret
				}
				return answers, nil
			}),
		}, nil

	case storage.AuthKeyFile:
		signer, err := loadSigner(cred)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	default:
		return nil, &ConnError{Kind: KindAuth, Reason: "no credential provided"}
	}
}

func loadSigner(cred storage.Credential) (ssh.Signer, error) {
	keyPath := ExpandHome(cred.KeyPath())
	content, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &ConnError{Kind: KindAuth, Reason: fmt.Sprintf("cannot read key file %s", keyPath), Err: err}
	}

	signer, err := ssh.ParsePrivateKey(content)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, &ConnError{Kind: KindAuth, Reason: fmt.Sprintf("cannot parse key file %s", keyPath), Err: err}
	}

	passphrase, ok := cred.Passphrase()
	if !ok {
		return nil, &ConnError{Kind: KindAuth, Reason: fmt.Sprintf("key file %s is encrypted and no passphrase was given", keyPath)}
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(content, []byte(passphrase))
	if err != nil {
		return nil, &ConnError{Kind: KindAuth, Reason: fmt.Sprintf("cannot decrypt key file %s", keyPath), Err: err}
	}
	return signer, nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
