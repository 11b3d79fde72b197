package tui

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quocson95/duopane/pkg/connect"
	"github.com/quocson95/duopane/pkg/panel"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
	"github.com/quocson95/duopane/pkg/transfer"
)

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+t":
		return tea.KeyMsg{Type: tea.KeyCtrlT}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// collect runs cmd, flattening batches, and returns the messages produced
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func newTestStore(t *testing.T) *storage.SettingsStore {
	t.Helper()
	store, err := storage.NewSettingsStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	return store
}

// fakeSession is an always connected remote with one directory
type fakeSession struct {
	profile storage.Profile
	mu      sync.Mutex
	closed  bool
}

func (f *fakeSession) ListDir(context.Context, string) ([]remote.Entry, error) {
	return []remote.Entry{{Name: "index.html", Size: 10}}, nil
}
func (f *fakeSession) Remove(context.Context, string, bool) error   { return nil }
func (f *fakeSession) Rename(context.Context, string, string) error { return nil }
func (f *fakeSession) Mkdir(context.Context, string) error          { return nil }
func (f *fakeSession) CreateFile(context.Context, string) error     { return nil }
func (f *fakeSession) Getwd(context.Context) (string, error)        { return "/home/admin", nil }
func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}
func (f *fakeSession) Status() (remote.Status, string) {
	if f.IsConnected() {
		return remote.StatusConnected, ""
	}
	return remote.StatusDisconnected, ""
}
func (f *fakeSession) Profile() storage.Profile { return f.profile }

func fakeDial(ctx context.Context, p storage.Profile) (panel.Session, error) {
	return &fakeSession{profile: p}, nil
}

func TestFormatting(t *testing.T) {
	t.Run("Core Functionality: sizes", func(t *testing.T) {
		cases := map[int64]string{
			0:       "0 B",
			1023:    "1023 B",
			1536:    "1.5 KB",
			1 << 20: "1.0 MB",
			5 << 30: "5.0 GB",
		}
		for n, want := range cases {
			if got := formatSize(n); got != want {
				t.Errorf("formatSize(%d) = %q, want %q", n, got, want)
			}
		}
	})

	t.Run("Core Functionality: speeds", func(t *testing.T) {
		if got := formatSpeed(512); got != "512 B/s" {
			t.Errorf("got %q", got)
		}
		if got := formatSpeed(2.5 * 1024 * 1024); got != "2.5 MB/s" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Input Validation: truncation", func(t *testing.T) {
		if got := truncateLeft("/very/long/path/name", 10); got != "...th/name" {
			t.Errorf("truncateLeft = %q", got)
		}
		if got := truncateRight("averylongfilename.txt", 10); got != "averylo..." {
			t.Errorf("truncateRight = %q", got)
		}
		if got := truncateRight("short", 10); got != "short" {
			t.Errorf("truncateRight = %q", got)
		}
	})
}

func TestTransferList(t *testing.T) {
	t.Run("Core Functionality: finished tasks are trimmed", func(t *testing.T) {
		l := newTransferList()
		l.apply(transfer.TaskUpdate{TaskID: 1, Name: "running.bin", State: transfer.TaskRunning})
		for id := 2; id <= 6; id++ {
			l.apply(transfer.TaskUpdate{TaskID: id, Name: "f", State: transfer.TaskPending})
			l.apply(transfer.TaskUpdate{TaskID: id, Name: "f", State: transfer.TaskCompleted})
		}

		active, pending, done := l.counts()
		if active != 1 || pending != 0 || done != finishedKept {
			t.Errorf("counts = %d %d %d", active, pending, done)
		}
		if len(l.order) != finishedKept+1 || l.order[0] != 1 || l.order[len(l.order)-1] != 6 {
			t.Errorf("unexpected order %v", l.order)
		}
	})

	t.Run("Core Functionality: empty list renders nothing", func(t *testing.T) {
		if newTransferList().View() != "" {
			t.Error("Expected empty view")
		}
	})
}

func TestConnectModel(t *testing.T) {
	t.Run("Core Functionality: local path navigates", func(t *testing.T) {
		dir := t.TempDir()
		m := NewConnectModel(newTestStore(t), fakeDial, connect.Attachment{Cwd: dir}, dir)

		_, cmd := m.Update(keyPress("enter"))
		msgs := collect(cmd)
		if len(msgs) != 1 {
			t.Fatalf("Expected one message, got %v", msgs)
		}
		nav, ok := msgs[0].(connectNavigateMsg)
		if !ok || !nav.local || nav.path != dir {
			t.Errorf("unexpected message %#v", msgs[0])
		}
	})

	t.Run("Core Functionality: new target connects and offers to save", func(t *testing.T) {
		store := newTestStore(t)
		m := NewConnectModel(store, fakeDial, connect.Attachment{Cwd: t.TempDir()}, "admin@example.com:/home/admin")

		m.Update(keyPress("enter"))
		if m.step != stepCredentials {
			t.Fatalf("Expected credentials step, got %d", m.step)
		}
		m.creds[inputPassword].SetValue("secret")
		m.Update(keyPress("enter"))
		if m.step != stepConnecting {
			t.Fatalf("Expected connecting step, got %d", m.step)
		}

		session, err := m.flow.Connect(context.Background(), fakeDial)
		m, cmd := m.Update(dialResultMsg{flow: m.flow, session: session, err: err})
		if m.step != stepSave {
			t.Fatalf("Expected save step, got %d", m.step)
		}
		var attach *connectAttachMsg
		for _, msg := range collect(cmd) {
			if a, ok := msg.(connectAttachMsg); ok {
				attach = &a
			}
		}
		if attach == nil || !attach.keepOpen || attach.path != "/home/admin" {
			t.Fatalf("unexpected attach %#v", attach)
		}
		if m.creds[inputPassword].Value() != "" {
			t.Error("password input should be cleared")
		}

		m.saveName.SetValue("web")
		_, cmd = m.Update(keyPress("enter"))
		if msgs := collect(cmd); len(msgs) != 1 {
			t.Fatalf("Expected close message, got %v", msgs)
		} else if _, ok := msgs[0].(connectClosedMsg); !ok {
			t.Errorf("Expected connectClosedMsg, got %#v", msgs[0])
		}
		profiles := store.Profiles()
		if len(profiles) != 1 || profiles[0].Name != "web" || profiles[0].Auth.Secret() != "secret" {
			t.Errorf("unexpected profiles %+v", profiles)
		}
	})

	t.Run("Input Validation: key mode needs a path", func(t *testing.T) {
		m := NewConnectModel(newTestStore(t), fakeDial, connect.Attachment{}, "admin@example.com:/srv")
		m.Update(keyPress("enter"))
		m.Update(keyPress("ctrl+t"))
		if !m.useKey || m.focused != inputKeyPath {
			t.Fatalf("Expected key mode focused on the key path")
		}
		m.Update(keyPress("enter"))
		if m.err == nil || m.step != stepCredentials {
			t.Errorf("Expected an error and to stay on credentials, got %v at %d", m.err, m.step)
		}
	})

	t.Run("Side Effects: esc cancels the flow", func(t *testing.T) {
		m := NewConnectModel(newTestStore(t), fakeDial, connect.Attachment{}, "admin@example.com:/srv")
		m.Update(keyPress("enter"))
		_, cmd := m.Update(keyPress("esc"))
		if msgs := collect(cmd); len(msgs) != 1 {
			t.Fatalf("Expected close message, got %v", msgs)
		}
		if m.flow.State() != connect.StateCancelled {
			t.Errorf("Expected Cancelled, got %s", m.flow.State())
		}
	})
}

// settleApp feeds worker results to the app until both panels are idle
func settleApp(t *testing.T, m *AppModel) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for m.panels[0].Busy() || m.panels[1].Busy() {
		select {
		case r := <-m.results:
			m.Update(r)
		case <-timeout:
			t.Fatal("panels did not settle")
		}
	}
}

func selectName(t *testing.T, p *panel.Panel, name string) {
	t.Helper()
	for i, e := range p.Entries() {
		if e.Name == name {
			p.SetCursor(i)
			return
		}
	}
	t.Fatalf("%s is not listed", name)
}

func hasEntry(p *panel.Panel, name string) bool {
	for _, e := range p.Entries() {
		if e.Name == name {
			return true
		}
	}
	return false
}

func TestAppModel(t *testing.T) {
	newApp := func(t *testing.T) (*AppModel, string) {
		t.Helper()
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
			t.Fatal(err)
		}
		m := NewAppModel(newTestStore(t), dir)
		t.Cleanup(m.Close)
		settleApp(t, m)
		return m, dir
	}

	t.Run("Core Functionality: mkdir through the prompt", func(t *testing.T) {
		m, dir := newApp(t)

		m.Update(keyPress("n"))
		if m.state != StatePrompt {
			t.Fatalf("Expected prompt, got %d", m.state)
		}
		m.promptModel.input.SetValue("made")
		_, cmd := m.Update(keyPress("enter"))
		for _, msg := range collect(cmd) {
			m.Update(msg)
		}
		settleApp(t, m)

		if m.state != StatePanels {
			t.Errorf("Expected panels, got %d", m.state)
		}
		if info, err := os.Stat(filepath.Join(dir, "made")); err != nil || !info.IsDir() {
			t.Fatalf("directory not created: %v", err)
		}
		if !hasEntry(m.panels[0], "made") {
			t.Error("new directory should be listed")
		}
	})

	t.Run("Core Functionality: delete asks first", func(t *testing.T) {
		m, dir := newApp(t)
		selectName(t, m.panels[0], "a.txt")

		m.Update(keyPress("x"))
		if m.state != StateConfirmDelete {
			t.Fatalf("Expected confirmation, got %d", m.state)
		}
		m.Update(keyPress("n"))
		settleApp(t, m)
		if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
			t.Fatal("declining must keep the file")
		}

		m.Update(keyPress("x"))
		m.Update(keyPress("y"))
		settleApp(t, m)
		if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
			t.Errorf("file should be deleted, got %v", err)
		}
	})

	t.Run("Side Effects: local copy reloads the other panel", func(t *testing.T) {
		m, dir := newApp(t)
		m.panels[1].Navigate(filepath.Join(dir, "sub"))
		settleApp(t, m)
		selectName(t, m.panels[0], "a.txt")

		m.Update(keyPress("c"))
		settleApp(t, m)

		if _, err := os.Stat(filepath.Join(dir, "sub", "a.txt")); err != nil {
			t.Fatalf("copy missing: %v", err)
		}
		if !hasEntry(m.panels[1], "a.txt") {
			t.Error("other panel should list the copy")
		}
		if m.currentErr() != nil {
			t.Errorf("unexpected error %v", m.currentErr())
		}
	})

	t.Run("Error Handling: remote to remote copy is refused", func(t *testing.T) {
		m, _ := newApp(t)
		p := storage.Profile{Host: "example.com", Port: 22, User: "admin", Auth: storage.PasswordCredential("x")}
		m.panels[0].Attach(&fakeSession{profile: p}, "/srv")
		m.panels[1].Attach(&fakeSession{profile: p}, "/srv")
		settleApp(t, m)
		selectName(t, m.panels[0], "index.html")

		m.Update(keyPress("c"))
		if m.err == nil {
			t.Error("Expected an error")
		}
	})
}
