package connect

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quocson95/duopane/pkg/address"
	"github.com/quocson95/duopane/pkg/panel"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
)

// fakeSession is a connected session serving a fixed set of directories
type fakeSession struct {
	profile storage.Profile
	dirs    map[string][]remote.Entry

	mu          sync.Mutex
	listed      []string
	disconnects int
}

func newFakeSession(p storage.Profile) *fakeSession {
	return &fakeSession{
		profile: p,
		dirs: map[string][]remote.Entry{
			"/home/admin": {{Name: "notes.txt", Size: 12}, {Name: "www", IsDir: true}},
			"/var/www":    {{Name: "index.html", Size: 200}},
		},
	}
}

func (f *fakeSession) ListDir(ctx context.Context, dir string) ([]remote.Entry, error) {
	f.mu.Lock()
	f.listed = append(f.listed, dir)
	f.mu.Unlock()
	entries, ok := f.dirs[dir]
	if !ok {
		return nil, &remote.IOError{Op: "readdir", Path: dir, Err: os.ErrNotExist}
	}
	return entries, nil
}

func (f *fakeSession) Remove(context.Context, string, bool) error   { return nil }
func (f *fakeSession) Rename(context.Context, string, string) error { return nil }
func (f *fakeSession) Mkdir(context.Context, string) error          { return nil }
func (f *fakeSession) CreateFile(context.Context, string) error     { return nil }
func (f *fakeSession) Getwd(context.Context) (string, error)        { return "/home/admin", nil }

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects == 0
}

func (f *fakeSession) Status() (remote.Status, string) {
	if f.IsConnected() {
		return remote.StatusConnected, ""
	}
	return remote.StatusDisconnected, "closed"
}

func (f *fakeSession) Profile() storage.Profile { return f.profile }

func (f *fakeSession) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// recordingDialer returns a fake session and remembers the profile it got
type recordingDialer struct {
	mu       sync.Mutex
	profiles []storage.Profile
	sessions []*fakeSession
	err      error
}

func (d *recordingDialer) dial(ctx context.Context, p storage.Profile) (panel.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles = append(d.profiles, p)
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSession(p)
	d.sessions = append(d.sessions, s)
	return s, nil
}

func newStore(t *testing.T, profiles ...storage.Profile) *storage.SettingsStore {
	t.Helper()
	store, err := storage.NewSettingsStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	for _, p := range profiles {
		if err := store.SaveProfile(p); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}
	}
	return store
}

func recordTransitions(f *Flow) *[]State {
	var states []State
	f.OnTransition = func(_, to State) { states = append(states, to) }
	return &states
}

// settle applies panel results until it is idle
func settle(t *testing.T, p *panel.Panel, results <-chan panel.Result) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for p.Busy() {
		select {
		case r := <-results:
			p.Apply(r)
		case <-timeout:
			t.Fatal("panel did not settle")
		}
	}
}

func TestFlow_EndToEnd(t *testing.T) {
	t.Run("Core Functionality: new target prompts for credentials", func(t *testing.T) {
		store := newStore(t)
		flow := New(store)
		states := recordTransitions(flow)
		dialer := &recordingDialer{}

		action, err := flow.Resolve("admin@example.com:/home/admin", Attachment{Cwd: t.TempDir()})
		if err != nil || action != ActionNeedCredentials {
			t.Fatalf("Resolve = %s, %v", action, err)
		}
		if flow.State() != StateEnteringCredentials {
			t.Fatalf("Expected EnteringCredentials, got %s", flow.State())
		}

		if err := flow.SubmitCredentials(storage.PasswordCredential("secret")); err != nil {
			t.Fatal(err)
		}
		session, err := flow.Connect(context.Background(), dialer.dial)
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if got := dialer.profiles[0]; got.Auth.Secret() != "secret" || got.Key() != (storage.ProfileKey{User: "admin", Host: "example.com", Port: 22}) {
			t.Errorf("dialed %s with %s", got.Key(), got.Auth)
		}

		if flow.State() != StateOfferSave {
			t.Fatalf("Expected OfferSave, got %s", flow.State())
		}
		if err := flow.DeclineSave(); err != nil {
			t.Fatal(err)
		}

		want := []State{StateEnteringCredentials, StateConnecting, StateConnected, StateOfferSave, StateDone}
		got := *states
		if len(got) != len(want) {
			t.Fatalf("Expected transitions %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Expected transitions %v, got %v", want, got)
			}
		}

		if n := len(store.Profiles()); n != 0 {
			t.Errorf("declining must not save, got %d profiles", n)
		}
		if flow.Profile().Auth.Secret() != "" {
			t.Error("flow should drop the credential once done")
		}

		results := make(chan panel.Result, 8)
		p := panel.New(1, panel.OSFS{}, t.TempDir(), results)
		defer p.Close()
		settle(t, p, results)
		p.Attach(session, flow.Path())
		settle(t, p, results)

		if p.Path() != "/home/admin" {
			t.Errorf("Expected panel at /home/admin, got %s", p.Path())
		}
		entries := p.Entries()
		if len(entries) != 3 || entries[1].Name != "www" || entries[2].Name != "notes.txt" {
			t.Errorf("unexpected listing %+v", entries)
		}
	})

	t.Run("Core Functionality: saved profile connects without prompting", func(t *testing.T) {
		saved := storage.Profile{Name: "web", Host: "example.com", Port: 22, User: "admin", Auth: storage.PasswordCredential("stored")}
		store := newStore(t, saved)
		flow := New(store)
		dialer := &recordingDialer{}

		action, err := flow.Resolve("admin@example.com:/var/www", Attachment{Cwd: t.TempDir()})
		if err != nil || action != ActionConnect {
			t.Fatalf("Resolve = %s, %v", action, err)
		}
		if flow.State() != StateConnecting {
			t.Fatalf("Expected Connecting, got %s", flow.State())
		}
		if err := flow.SubmitCredentials(storage.PasswordCredential("x")); !errors.Is(err, ErrInvalidState) {
			t.Errorf("credentials must not be asked for, got %v", err)
		}

		session, err := flow.Connect(context.Background(), dialer.dial)
		if err != nil {
			t.Fatal(err)
		}
		if dialer.profiles[0].Auth.Secret() != "stored" {
			t.Error("saved credential should be used")
		}
		if flow.State() != StateDone {
			t.Errorf("Expected Done, got %s", flow.State())
		}
		if flow.Profile().Auth.Secret() != "" {
			t.Error("flow should drop its credential after authenticating")
		}

		results := make(chan panel.Result, 8)
		p := panel.New(1, panel.OSFS{}, t.TempDir(), results)
		defer p.Close()
		settle(t, p, results)
		p.Attach(session, flow.Path())
		settle(t, p, results)
		if p.Path() != "/var/www" {
			t.Errorf("Expected panel at /var/www, got %s", p.Path())
		}
	})
}

func TestFlow_Resolve(t *testing.T) {
	attached := Attachment{
		Remote:  true,
		Profile: storage.Profile{Host: "example.com", Port: 22, User: "admin"},
		Cwd:     "/home/admin",
	}

	t.Run("Core Functionality: local paths", func(t *testing.T) {
		flow := New(newStore(t))
		action, err := flow.Resolve("/tmp/../var", attached)
		if err != nil || action != ActionLocal {
			t.Fatalf("Resolve = %s, %v", action, err)
		}
		if flow.Path() != "/var" {
			t.Errorf("Expected /var, got %s", flow.Path())
		}

		action, _ = flow.Resolve("docs", Attachment{Cwd: "/home/me"})
		if action != ActionLocal || flow.Path() != "/home/me/docs" {
			t.Errorf("relative local input: %s %s", action, flow.Path())
		}
	})

	t.Run("Core Functionality: relative input while attached stays remote", func(t *testing.T) {
		flow := New(newStore(t))
		action, err := flow.Resolve("www/../logs", attached)
		if err != nil || action != ActionRemoteNavigate {
			t.Fatalf("Resolve = %s, %v", action, err)
		}
		if flow.Path() != "/home/admin/logs" {
			t.Errorf("Expected /home/admin/logs, got %s", flow.Path())
		}
	})

	t.Run("Core Functionality: same target while attached navigates", func(t *testing.T) {
		flow := New(newStore(t))
		action, _ := flow.Resolve("admin@example.com:/etc", attached)
		if action != ActionRemoteNavigate || flow.Path() != "/etc" {
			t.Errorf("Expected remote navigate to /etc, got %s %s", action, flow.Path())
		}

		action, _ = flow.Resolve("admin@example.com:2222:/etc", attached)
		if action != ActionNeedCredentials {
			t.Errorf("different port is a different target, got %s", action)
		}
	})

	t.Run("Error Handling: malformed address", func(t *testing.T) {
		flow := New(newStore(t))
		for _, input := range []string{"", "   ", "admin@example.com:relative", "admin@example.com:99999:/x"} {
			action, err := flow.Resolve(input, Attachment{})
			var pe *address.ParseError
			if action != ActionInvalid || !errors.As(err, &pe) {
				t.Errorf("Resolve(%q) = %s, %v", input, action, err)
			}
			if flow.State() != StateEnteringAddress {
				t.Errorf("invalid input should re-prompt, state %s", flow.State())
			}
		}
	})

	t.Run("Core Functionality: user@host without a colon is a local name", func(t *testing.T) {
		flow := New(newStore(t))
		action, err := flow.Resolve("backup@2024", Attachment{Cwd: "/home/me"})
		if err != nil || action != ActionLocal {
			t.Fatalf("Resolve = %s, %v", action, err)
		}
		if flow.Path() != "/home/me/backup@2024" {
			t.Errorf("Expected /home/me/backup@2024, got %s", flow.Path())
		}
	})

	t.Run("Input Validation: resolve is refused while connecting", func(t *testing.T) {
		flow := New(newStore(t))
		flow.Resolve("admin@example.com:/", Attachment{})
		flow.SubmitCredentials(storage.PasswordCredential("secret"))
		if _, err := flow.Resolve("/tmp", Attachment{}); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	})
}

func TestFlow_Failures(t *testing.T) {
	t.Run("Error Handling: auth failure then retry", func(t *testing.T) {
		flow := New(newStore(t))
		authErr := &remote.ConnError{Kind: remote.KindAuth, Reason: "authentication failed"}
		dialer := &recordingDialer{err: authErr}

		flow.Resolve("admin@example.com:/home/admin", Attachment{})
		flow.SubmitCredentials(storage.PasswordCredential("wrong"))
		if _, err := flow.Connect(context.Background(), dialer.dial); !remote.IsAuth(err) {
			t.Fatalf("Expected auth error, got %v", err)
		}
		if flow.State() != StateFailed || !remote.IsAuth(flow.Err()) {
			t.Fatalf("Expected Failed with the reason kept, got %s %v", flow.State(), flow.Err())
		}

		if err := flow.Retry(); err != nil {
			t.Fatal(err)
		}
		if flow.State() != StateEnteringCredentials {
			t.Fatalf("Expected EnteringCredentials, got %s", flow.State())
		}
		if flow.Profile().Auth.Secret() != "" {
			t.Error("failed credential should be dropped")
		}

		dialer.err = nil
		flow.SubmitCredentials(storage.PasswordCredential("secret"))
		if _, err := flow.Connect(context.Background(), dialer.dial); err != nil {
			t.Fatal(err)
		}
		if flow.State() != StateOfferSave {
			t.Errorf("Expected OfferSave, got %s", flow.State())
		}
	})

	t.Run("Error Handling: failed saved profile offers a re-save", func(t *testing.T) {
		saved := storage.Profile{Name: "web", Host: "example.com", Port: 22, User: "admin", Auth: storage.PasswordCredential("old")}
		store := newStore(t, saved)
		flow := New(store)
		dialer := &recordingDialer{err: &remote.ConnError{Kind: remote.KindAuth, Reason: "authentication failed"}}

		flow.Resolve("admin@example.com:/", Attachment{})
		flow.Connect(context.Background(), dialer.dial)
		flow.Retry()
		dialer.err = nil
		flow.SubmitCredentials(storage.PasswordCredential("new"))
		flow.Connect(context.Background(), dialer.dial)

		if flow.SuggestedName() != "web" {
			t.Errorf("Expected suggested name web, got %q", flow.SuggestedName())
		}
		if err := flow.SaveProfile(flow.SuggestedName()); err != nil {
			t.Fatal(err)
		}
		profiles := store.Profiles()
		if len(profiles) != 1 || profiles[0].Auth.Secret() != "new" {
			t.Errorf("Expected the saved profile to be overwritten, got %+v", profiles)
		}
	})

	t.Run("Input Validation: out of order calls", func(t *testing.T) {
		flow := New(newStore(t))
		if err := flow.Retry(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Retry: %v", err)
		}
		if err := flow.SaveProfile("x"); !errors.Is(err, ErrInvalidState) {
			t.Errorf("SaveProfile: %v", err)
		}
		if err := flow.DeclineSave(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("DeclineSave: %v", err)
		}
		if _, err := flow.Begin(context.Background()); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Begin: %v", err)
		}
		if _, err := flow.Succeeded(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Succeeded: %v", err)
		}

		flow.Resolve("admin@example.com:/", Attachment{})
		if err := flow.SubmitCredentials(storage.Credential{}); err == nil {
			t.Error("empty credential should be rejected")
		}
	})
}

func TestFlow_SaveProfile(t *testing.T) {
	connectNew := func(t *testing.T, store ProfileStore, input string) *Flow {
		t.Helper()
		flow := New(store)
		flow.Resolve(input, Attachment{})
		flow.SubmitCredentials(storage.PasswordCredential("secret"))
		if _, err := flow.Connect(context.Background(), (&recordingDialer{}).dial); err != nil {
			t.Fatal(err)
		}
		return flow
	}

	t.Run("Core Functionality: save stores the profile", func(t *testing.T) {
		store := newStore(t)
		flow := connectNew(t, store, "admin@example.com:2222:/srv")

		if flow.SuggestedName() != "admin@example.com:2222" {
			t.Errorf("unexpected suggestion %q", flow.SuggestedName())
		}
		if err := flow.SaveProfile("  staging "); err != nil {
			t.Fatal(err)
		}
		if flow.State() != StateDone {
			t.Errorf("Expected Done, got %s", flow.State())
		}
		profiles := store.Profiles()
		if len(profiles) != 1 {
			t.Fatalf("Expected 1 profile, got %d", len(profiles))
		}
		p := profiles[0]
		if p.Name != "staging" || p.Port != 2222 || p.DefaultPath != "/srv" || p.Auth.Secret() != "secret" {
			t.Errorf("unexpected saved profile %+v", p)
		}
		if flow.Profile().Auth.Secret() != "" {
			t.Error("flow should drop its copy of the credential")
		}
	})

	t.Run("Error Handling: duplicate name keeps the offer open", func(t *testing.T) {
		store := newStore(t, storage.Profile{Name: "taken", Host: "other.com", Port: 22, User: "root", Auth: storage.PasswordCredential("x")})
		flow := connectNew(t, store, "admin@example.com:/")

		if err := flow.SaveProfile("taken"); !errors.Is(err, storage.ErrDuplicateName) {
			t.Fatalf("Expected ErrDuplicateName, got %v", err)
		}
		if flow.State() != StateOfferSave {
			t.Errorf("Expected to stay in OfferSave, got %s", flow.State())
		}
		if err := flow.SaveProfile("mine"); err != nil {
			t.Fatal(err)
		}
		if n := len(store.Profiles()); n != 2 {
			t.Errorf("Expected 2 profiles, got %d", n)
		}
	})
}

func TestFlow_Cancel(t *testing.T) {
	t.Run("Core Functionality: cancel aborts a dial in progress", func(t *testing.T) {
		flow := New(newStore(t))
		flow.Resolve("admin@example.com:/", Attachment{})
		flow.SubmitCredentials(storage.PasswordCredential("secret"))

		started := make(chan struct{})
		dial := func(ctx context.Context, p storage.Profile) (panel.Session, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}

		errc := make(chan error, 1)
		go func() {
			_, err := flow.Connect(context.Background(), dial)
			errc <- err
		}()
		<-started
		flow.Cancel()

		select {
		case err := <-errc:
			if !errors.Is(err, ErrCancelled) {
				t.Errorf("Expected ErrCancelled, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("dial was not cancelled")
		}
		if flow.State() != StateCancelled {
			t.Errorf("Expected Cancelled, got %s", flow.State())
		}
	})

	t.Run("Side Effects: a session finishing after cancel is closed", func(t *testing.T) {
		flow := New(newStore(t))
		flow.Resolve("admin@example.com:/", Attachment{})
		flow.SubmitCredentials(storage.PasswordCredential("secret"))

		started, release := make(chan struct{}), make(chan struct{})
		late := newFakeSession(storage.Profile{})
		dial := func(ctx context.Context, p storage.Profile) (panel.Session, error) {
			close(started)
			<-release
			return late, nil
		}

		errc := make(chan error, 1)
		go func() {
			_, err := flow.Connect(context.Background(), dial)
			errc <- err
		}()
		<-started
		flow.Cancel()
		close(release)

		if err := <-errc; !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
		if late.disconnectCount() != 1 {
			t.Errorf("late session should be disconnected once, got %d", late.disconnectCount())
		}
	})

	t.Run("Input Validation: cancel after done is a no-op", func(t *testing.T) {
		flow := New(newStore(t))
		flow.Resolve("/tmp", Attachment{})
		flow.Cancel()
		if flow.State() != StateDone {
			t.Errorf("Expected Done, got %s", flow.State())
		}
	})
}

func TestFlow_UseProfile(t *testing.T) {
	saved := storage.Profile{Name: "web", Host: "example.com", Port: 22, User: "admin", Auth: storage.PasswordCredential("stored")}

	t.Run("Core Functionality: picked profile opens the remote home", func(t *testing.T) {
		flow := New(newStore(t, saved))
		dialer := &recordingDialer{}

		if err := flow.UseProfile(saved); err != nil {
			t.Fatalf("UseProfile failed: %v", err)
		}
		if flow.State() != StateConnecting {
			t.Fatalf("Expected Connecting, got %s", flow.State())
		}
		session, err := flow.Connect(context.Background(), dialer.dial)
		if err != nil {
			t.Fatal(err)
		}
		if flow.State() != StateDone {
			t.Errorf("saved profiles are not offered for saving, got %s", flow.State())
		}
		if flow.Path() != "" {
			t.Errorf("Expected empty path, got %q", flow.Path())
		}

		results := make(chan panel.Result, 8)
		p := panel.New(0, panel.OSFS{}, t.TempDir(), results)
		defer p.Close()
		settle(t, p, results)
		p.Attach(session, flow.Path())
		settle(t, p, results)
		if p.Path() != "/home/admin" {
			t.Errorf("Expected the remote working directory, got %s", p.Path())
		}
	})

	t.Run("Input Validation: incomplete profile", func(t *testing.T) {
		flow := New(newStore(t))
		if err := flow.UseProfile(storage.Profile{Host: "example.com", Port: 22}); err == nil {
			t.Error("Expected error for a profile without user")
		}
		if flow.State() != StateEnteringAddress {
			t.Errorf("Expected EnteringAddress, got %s", flow.State())
		}
	})
}
