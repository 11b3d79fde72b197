package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quocson95/duopane/pkg/storage"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultDialTimeout        = 30 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
	DefaultKeepaliveInterval  = 15 * time.Second
	DefaultKeepaliveMaxMissed = 3
)

// Options tune how a Session connects and stays alive
type Options struct {
	DialTimeout        time.Duration
	IdleTimeout        time.Duration
	KeepaliveInterval  time.Duration
	KeepaliveMaxMissed int

	// HostKeyCallback verifies the server identity. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback

	// OnStatusChange is called after every status transition, from
	// whichever goroutine caused it.
	OnStatusChange func(status Status, reason string)
}

// DefaultOptions returns the stock timeouts with host keys accepted unconditionally
func DefaultOptions() Options {
	return Options{
		DialTimeout:        DefaultDialTimeout,
		IdleTimeout:        DefaultIdleTimeout,
		KeepaliveInterval:  DefaultKeepaliveInterval,
		KeepaliveMaxMissed: DefaultKeepaliveMaxMissed,
		HostKeyCallback:    AcceptAnyHostKey(),
	}
}

// OptionsFromSettings builds Options from persisted settings
func OptionsFromSettings(s storage.Settings) (Options, error) {
	opts := DefaultOptions()
	if d := s.DialTimeout(); d > 0 {
		opts.DialTimeout = d
	}
	if d := s.IdleTimeout(); d > 0 {
		opts.IdleTimeout = d
	}
	if d := s.KeepaliveInterval(); d > 0 {
		opts.KeepaliveInterval = d
	}
	if s.KeepaliveMaxMissed > 0 {
		opts.KeepaliveMaxMissed = s.KeepaliveMaxMissed
	}
	if s.VerifyHostKeys {
		cb, err := KnownHostsVerifier(s.KnownHostsPath)
		if err != nil {
			return opts, err
		}
		opts.HostKeyCallback = cb
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DialTimeout <= 0 {
		o.DialTimeout = def.DialTimeout
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = def.KeepaliveInterval
	}
	if o.KeepaliveMaxMissed <= 0 {
		o.KeepaliveMaxMissed = def.KeepaliveMaxMissed
	}
	if o.HostKeyCallback == nil {
		o.HostKeyCallback = def.HostKeyCallback
	}
	return o
}

// AcceptAnyHostKey trusts every server key. This is the default policy and
// is equivalent to StrictHostKeyChecking=no.
func AcceptAnyHostKey() ssh.HostKeyCallback {
	return ssh.InsecureIgnoreHostKey()
}

// KnownHostsVerifier checks server keys against a known_hosts file, creating
// an empty one if needed. An empty path means ~/.ssh/known_hosts.
func KnownHostsVerifier(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".ssh", "known_hosts")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
		f.Close()
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("invalid known_hosts %s: %w", path, err)
	}
	return cb, nil
}
