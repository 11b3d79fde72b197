// Package connect drives the interactive connect workflow: address entry,
// credential entry, connecting, and the optional save of a new profile.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/quocson95/duopane/pkg/address"
	"github.com/quocson95/duopane/pkg/logutil"
	"github.com/quocson95/duopane/pkg/panel"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
)

// State of the connect workflow
type State int

const (
	StateEnteringAddress State = iota
	StateEnteringCredentials
	StateConnecting
	StateConnected
	StateOfferSave
	StateFailed
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateEnteringAddress:
		return "entering address"
	case StateEnteringCredentials:
		return "entering credentials"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOfferSave:
		return "offer save"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Action tells the caller what to do with a resolved address
type Action int

const (
	// ActionInvalid means the input was malformed; prompt again
	ActionInvalid Action = iota
	// ActionLocal navigates the panel to a local path, detaching any session first
	ActionLocal
	// ActionRemoteNavigate navigates within the attached session
	ActionRemoteNavigate
	// ActionConnect dials the matched saved profile
	ActionConnect
	// ActionNeedCredentials asks the user for a password or key file
	ActionNeedCredentials
)

func (a Action) String() string {
	switch a {
	case ActionLocal:
		return "local"
	case ActionRemoteNavigate:
		return "remote navigate"
	case ActionConnect:
		return "connect"
	case ActionNeedCredentials:
		return "need credentials"
	default:
		return "invalid"
	}
}

var (
	// ErrInvalidState is returned when a method is called out of order
	ErrInvalidState = errors.New("invalid connect state")

	// ErrCancelled is returned once the user closed the connect dialog
	ErrCancelled = errors.New("connect cancelled")
)

// ProfileStore is where saved profiles come from and go to.
// *storage.SettingsStore implements it.
type ProfileStore interface {
	Profiles() []storage.Profile
	SaveProfile(p storage.Profile) error
}

// Dialer opens a session for a profile
type Dialer func(ctx context.Context, p storage.Profile) (panel.Session, error)

// RemoteDialer adapts remote.Dial to a Dialer
func RemoteDialer(opts remote.Options) Dialer {
	return func(ctx context.Context, p storage.Profile) (panel.Session, error) {
		s, err := remote.Dial(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Attachment describes the panel the address is typed into
type Attachment struct {
	// Remote is set when a session is attached
	Remote bool
	// Profile of the attached session
	Profile storage.Profile
	// Cwd is the panel's current directory, local or remote
	Cwd string
}

// Flow is the connect state machine. It is safe for concurrent use so that
// the dial can run off the UI goroutine while the user may cancel.
type Flow struct {
	store ProfileStore

	// OnTransition, when set, is called on every state change with the
	// flow locked. It must not call back into the flow.
	OnTransition func(from, to State)

	mu      sync.Mutex
	state   State
	target  address.Address
	profile storage.Profile
	saved   bool
	path    string
	err     error
	cancel  context.CancelFunc
}

// New starts a flow in StateEnteringAddress
func New(store ProfileStore) *Flow {
	return &Flow{store: store}
}

// State returns the current state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err is the reason of the last failure
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Path is the directory to list once the action is carried out
func (f *Flow) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Target is the parsed remote address
func (f *Flow) Target() address.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// Profile is the profile that will be dialed, credential included
func (f *Flow) Profile() storage.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile
}

// SuggestedName is the default name offered when saving
func (f *Flow) SuggestedName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile.Name != "" {
		return f.profile.Name
	}
	return f.profile.Key().String()
}

func (f *Flow) wrongState(op string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, f.state)
}

// Resolve interprets typed input. It can be called again from any state
// except Connecting, which starts a new attempt.
func (f *Flow) Resolve(input string, att Attachment) (Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateConnecting {
		return ActionInvalid, f.wrongState("resolve")
	}
	f.reset()

	raw := strings.TrimLeftFunc(input, unicode.IsSpace)
	if strings.TrimSpace(raw) == "" {
		f.err = &address.ParseError{Input: input, Reason: "empty address"}
		return ActionInvalid, f.err
	}

	addr, err := address.Parse(raw)
	switch {
	case errors.Is(err, address.ErrNotRemote):
		return f.resolvePath(raw, att), nil
	case err != nil:
		f.err = err
		slog.Debug("invalid address", "input", logutil.SanitizeForLog(raw), "error", err)
		return ActionInvalid, err
	}

	f.target = addr
	f.path = addr.Path

	if att.Remote && addr.SameTarget(att.Profile) {
		f.set(StateDone)
		return ActionRemoteNavigate, nil
	}

	if p, ok := address.FindMatchingProfile(f.store.Profiles(), addr.User, addr.Host, addr.Port); ok {
		f.profile = p
		f.saved = true
		f.set(StateConnecting)
		slog.Info("using saved profile", "profile", logutil.SanitizeForLog(p.Name), "target", addr.Key())
		return ActionConnect, nil
	}

	f.profile = storage.Profile{
		Host:        addr.Host,
		Port:        addr.Port,
		User:        addr.User,
		DefaultPath: addr.Path,
	}
	f.set(StateEnteringCredentials)
	return ActionNeedCredentials, nil
}

// resolvePath handles input that is not a remote address. Absolute paths
// are always local; relative ones follow the panel's current backend.
func (f *Flow) resolvePath(raw string, att Attachment) Action {
	f.set(StateDone)
	if address.IsLocalPath(raw) {
		f.path = filepath.Clean(remote.ExpandHome(raw))
		return ActionLocal
	}
	if att.Remote {
		f.path = address.ResolveRelative(att.Cwd, raw)
		return ActionRemoteNavigate
	}
	f.path = filepath.Join(att.Cwd, raw)
	return ActionLocal
}

// UseProfile starts connecting to a saved profile picked from a list.
// An empty DefaultPath opens the remote working directory.
func (f *Flow) UseProfile(p storage.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateConnecting {
		return f.wrongState("use profile")
	}
	f.reset()
	if err := p.Validate(); err != nil {
		f.err = err
		return err
	}

	f.target = address.Address{User: p.User, Host: p.Host, Port: p.Port, Path: p.DefaultPath}
	f.profile = p
	f.saved = true
	f.path = p.DefaultPath
	f.set(StateConnecting)
	return nil
}

// SubmitCredentials sets the credential for an unsaved target
func (f *Flow) SubmitCredentials(cred storage.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateEnteringCredentials {
		return f.wrongState("submit credentials")
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	f.profile.Auth = cred
	f.err = nil
	f.set(StateConnecting)
	return nil
}

// Begin returns the context the dial must use. Cancel cancels it.
func (f *Flow) Begin(ctx context.Context) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateConnecting {
		return nil, f.wrongState("begin")
	}
	if f.cancel != nil {
		f.cancel()
	}
	ctx, f.cancel = context.WithCancel(ctx)
	return ctx, nil
}

// Succeeded records an authenticated session. New targets move on to
// StateOfferSave, saved ones are done.
func (f *Flow) Succeeded() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateConnecting {
		if f.state == StateCancelled {
			return f.state, ErrCancelled
		}
		return f.state, f.wrongState("succeeded")
	}
	f.release()
	f.set(StateConnected)
	slog.Info("connected", "target", f.profile.Key())

	if f.saved {
		f.dropCredential()
		f.set(StateDone)
	} else {
		f.set(StateOfferSave)
	}
	return f.state, nil
}

// Failed records a failed attempt. It is a no-op after Cancel.
func (f *Flow) Failed(err error) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateConnecting {
		return f.state
	}
	f.release()
	f.err = err
	f.set(StateFailed)
	slog.Warn("connect failed", "target", f.profile.Key(), "error", err)
	return f.state
}

// Retry goes back to credential entry after a failure
func (f *Flow) Retry() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateFailed {
		return f.wrongState("retry")
	}
	f.dropCredential()
	// a saved profile that failed gets re-saved with the new credential
	f.saved = false
	f.set(StateEnteringCredentials)
	return nil
}

// SaveProfile stores the connected profile under name, overwriting a saved
// profile for the same user, host and port.
func (f *Flow) SaveProfile(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateOfferSave {
		return f.wrongState("save profile")
	}
	p := f.profile
	p.Name = strings.TrimSpace(name)
	if p.Name == "" {
		p.Name = p.Key().String()
	}
	if err := f.store.SaveProfile(p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	slog.Info("profile saved", "profile", logutil.SanitizeForLog(p.Name), "target", p.Key())
	f.profile.Name = p.Name
	f.dropCredential()
	f.set(StateDone)
	return nil
}

// DeclineSave finishes without saving
func (f *Flow) DeclineSave() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateOfferSave {
		return f.wrongState("decline save")
	}
	f.dropCredential()
	f.set(StateDone)
	return nil
}

// Cancel aborts the flow and any dial in progress
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateDone || f.state == StateCancelled {
		return
	}
	f.release()
	f.dropCredential()
	f.set(StateCancelled)
}

// Connect runs a dial for the current profile. A session that completes
// after Cancel is disconnected and ErrCancelled returned.
func (f *Flow) Connect(ctx context.Context, dial Dialer) (panel.Session, error) {
	dialCtx, err := f.Begin(ctx)
	if err != nil {
		return nil, err
	}
	s, err := dial(dialCtx, f.Profile())
	if err != nil {
		if f.Failed(err) == StateCancelled {
			return nil, ErrCancelled
		}
		return nil, err
	}
	if _, err := f.Succeeded(); err != nil {
		s.Disconnect()
		return nil, err
	}
	return s, nil
}

func (f *Flow) set(to State) {
	from := f.state
	f.state = to
	if f.OnTransition != nil && from != to {
		f.OnTransition(from, to)
	}
}

func (f *Flow) reset() {
	f.release()
	f.dropCredential()
	f.set(StateEnteringAddress)
	f.target = address.Address{}
	f.profile = storage.Profile{}
	f.saved = false
	f.path = ""
	f.err = nil
}

func (f *Flow) release() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *Flow) dropCredential() {
	f.profile.Auth.Clear()
}
