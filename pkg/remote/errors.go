package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNotConnected is returned for operations on a session that is not Connected
var ErrNotConnected = errors.New("session not connected")

// ErrorKind classifies connection level failures
type ErrorKind int

const (
	KindAuth ErrorKind = iota
	KindNetwork
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ConnError is a connection level failure. It always leaves the session
// Disconnected and is never retried automatically.
type ConnError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *ConnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool { return isKind(err, KindAuth) }

// IsNetwork reports whether err is a network failure
func IsNetwork(err error) bool { return isKind(err, KindNetwork) }

// IsProtocol reports whether err is a handshake or channel failure
func IsProtocol(err error) bool { return isKind(err, KindProtocol) }

func isKind(err error, kind ErrorKind) bool {
	var ce *ConnError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IOError is a failed file operation. The session stays Connected.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// classifyHandshake maps an ssh handshake error onto a ConnError
func classifyHandshake(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	var netErr net.Error

	switch {
	case strings.Contains(err.Error(), "unable to authenticate"):
		return &ConnError{Kind: KindAuth, Reason: "authentication failed", Err: err}
	case errors.As(err, &keyErr), errors.As(err, &revoked), strings.Contains(err.Error(), "knownhosts:"):
		return &ConnError{Kind: KindProtocol, Reason: fmt.Sprintf("host key verification failed for %s", addr), Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &ConnError{Kind: KindNetwork, Reason: fmt.Sprintf("timed out talking to %s", addr), Err: err}
	default:
		return &ConnError{Kind: KindProtocol, Reason: fmt.Sprintf("ssh handshake with %s failed", addr), Err: err}
	}
}

// isTransportFailure reports whether err means the connection itself is gone,
// as opposed to a single file operation being refused.
func isTransportFailure(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, sftp.ErrSSHFxConnectionLost),
		errors.Is(err, sftp.ErrSSHFxNoConnection):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
