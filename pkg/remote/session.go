package remote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/quocson95/duopane/pkg/storage"
)

// Status is the last known state of a Session
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Entry is one directory listing result
type Entry struct {
	Name      string
	Size      int64
	ModTime   time.Time
	Mode      os.FileMode
	IsDir     bool
	IsSymlink bool
}

func entryFromInfo(fi os.FileInfo) Entry {
	return Entry{
		Name:      fi.Name(),
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
		Mode:      fi.Mode(),
		IsDir:     fi.IsDir(),
		IsSymlink: fi.Mode()&os.ModeSymlink != 0,
	}
}

// Session is one authenticated SSH connection and its SFTP channel.
// File operations are serialized; the channel is a single stream.
type Session struct {
	opts Options

	conn  transport
	files fileChannel

	// opMu serializes file operations
	opMu sync.Mutex

	mu      sync.Mutex
	profile storage.Profile
	status  Status
	reason  string
	closed  bool

	stopKeepalive context.CancelFunc
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func newSession(profile storage.Profile, opts Options) *Session {
	return &Session{
		profile: profile,
		opts:    opts,
		status:  StatusIdle,
	}
}

// attach wires an established transport and channel and starts the
// background keepalive and connection watcher.
func (s *Session) attach(conn transport, files fileChannel) {
	s.conn = conn
	s.files = files
	s.setStatus(StatusConnected, "")

	ctx, cancel := context.WithCancel(context.Background())
	s.stopKeepalive = cancel

	s.wg.Add(2)
	go s.keepaliveLoop(ctx)
	go s.watch()
}

func (s *Session) setStatus(status Status, reason string) {
	s.mu.Lock()
	s.status = status
	s.reason = reason
	s.mu.Unlock()
	s.notify(status, reason)
}

func (s *Session) notify(status Status, reason string) {
	if s.opts.OnStatusChange != nil {
		s.opts.OnStatusChange(status, reason)
	}
}

// disconnected moves a Connected session to Disconnected. It reports false
// when the session had already left Connected.
func (s *Session) disconnected(reason string) bool {
	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return false
	}
	s.status = StatusDisconnected
	s.reason = reason
	s.mu.Unlock()

	s.notify(StatusDisconnected, reason)
	return true
}

// fail moves a Connected session to Disconnected and closes the transport.
func (s *Session) fail(reason string) {
	if !s.disconnected(reason) {
		return
	}
	slog.Warn("remote session lost", "target", s.target(), "reason", reason)
	s.closeTransport()
}

// watch notices the transport going away on its own
func (s *Session) watch() {
	defer s.wg.Done()
	err := s.conn.Wait()
	reason := "connection closed by remote host"
	if err != nil {
		reason = fmt.Sprintf("connection lost: %v", err)
	}
	s.fail(reason)
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		if s.files != nil {
			s.files.Close()
		}
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Key().String()
}

// Profile returns the profile the session was created from. The credential
// is cleared once the session is disconnected.
func (s *Session) Profile() storage.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Status returns the last known status and, when Disconnected, the reason
func (s *Session) Status() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.reason
}

// IsConnected reports the last known status without touching the network
func (s *Session) IsConnected() bool {
	status, _ := s.Status()
	return status == StatusConnected
}

// Disconnect closes the channel and transport. Calling it again is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.disconnected("disconnected")
	if s.stopKeepalive != nil {
		s.stopKeepalive()
	}
	s.closeTransport()
	s.wg.Wait()

	s.mu.Lock()
	s.profile.Auth.Clear()
	s.mu.Unlock()

	slog.Info("remote session closed", "target", s.target())
	return nil
}

// do runs one file operation with the session lock held and classifies its error
func (s *Session) do(ctx context.Context, op, p string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.IsConnected() {
		_, reason := s.Status()
		if reason != "" {
			return fmt.Errorf("%s %s: %w (%s)", op, p, ErrNotConnected, reason)
		}
		return fmt.Errorf("%s %s: %w", op, p, ErrNotConnected)
	}

	err := fn()
	if err == nil {
		return nil
	}
	if isTransportFailure(err) {
		reason := fmt.Sprintf("connection lost during %s: %v", op, err)
		s.fail(reason)
		return &ConnError{Kind: KindNetwork, Reason: reason, Err: err}
	}
	slog.Debug("remote operation failed", "op", op, "path", p, "error", err)
	return &IOError{Op: op, Path: p, Err: err}
}

// ListDir lists one directory. Entries come back in wire order.
func (s *Session) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	err := s.do(ctx, "list", dir, func() error {
		infos, err := s.files.ReadDir(dir)
		if err != nil {
			return err
		}
		entries = make([]Entry, 0, len(infos))
		for _, fi := range infos {
			entries = append(entries, entryFromInfo(fi))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deletes a file, or a directory tree when isDir is set. Children are
// removed before their parent; a failing child does not stop its siblings
// and the first failure is returned.
func (s *Session) Remove(ctx context.Context, p string, isDir bool) error {
	return s.do(ctx, "remove", p, func() error {
		if !isDir {
			return s.files.Remove(p)
		}
		return s.removeTree(ctx, p)
	})
}

func (s *Session) removeTree(ctx context.Context, dir string) error {
	infos, err := s.files.ReadDir(dir)
	if err != nil {
		return err
	}

	var first error
	for _, fi := range infos {
		if err := ctx.Err(); err != nil {
			if first == nil {
				first = err
			}
			break
		}

		child := path.Join(dir, fi.Name())
		var err error
		if fi.IsDir() {
			err = s.removeTree(ctx, child)
		} else if err = s.files.Remove(child); err != nil {
			err = fmt.Errorf("%s: %w", child, err)
		}
		if err == nil {
			continue
		}
		if isTransportFailure(err) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	if first != nil {
		return first
	}
	if err := s.files.RemoveDirectory(dir); err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	return nil
}

// Rename renames or moves a remote path
func (s *Session) Rename(ctx context.Context, oldPath, newPath string) error {
	return s.do(ctx, "rename", oldPath, func() error {
		return s.files.Rename(oldPath, newPath)
	})
}

// Mkdir creates one directory
func (s *Session) Mkdir(ctx context.Context, p string) error {
	return s.do(ctx, "mkdir", p, func() error {
		return s.files.Mkdir(p)
	})
}

// CreateFile creates an empty file
func (s *Session) CreateFile(ctx context.Context, p string) error {
	return s.do(ctx, "create", p, func() error {
		return s.files.CreateEmpty(p)
	})
}

// Getwd returns the remote working directory, normally the user's home
func (s *Session) Getwd(ctx context.Context) (string, error) {
	var wd string
	err := s.do(ctx, "getwd", ".", func() error {
		var err error
		wd, err = s.files.Getwd()
		return err
	})
	return wd, err
}
