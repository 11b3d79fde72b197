package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/quocson95/duopane/pkg/address"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
	"github.com/quocson95/duopane/pkg/transfer"
)

var (
	// ErrNoSelection is returned when an operation needs a selected entry
	ErrNoSelection = errors.New("no entry selected")

	// ErrRemoteToRemote is returned when both panels have a session attached
	ErrRemoteToRemote = errors.New("copy between two remote panels is not supported")

	// ErrInvalidName rejects names that are empty or contain a path separator
	ErrInvalidName = errors.New("invalid name")

	// ErrLoading is returned for operations issued after a backend switch
	// and before the new backend's first listing arrived
	ErrLoading = errors.New("panel is still loading")
)

// Session is the part of *remote.Session a panel uses
type Session interface {
	ListDir(ctx context.Context, dir string) ([]remote.Entry, error)
	Remove(ctx context.Context, p string, isDir bool) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Mkdir(ctx context.Context, p string) error
	CreateFile(ctx context.Context, p string) error
	Getwd(ctx context.Context) (string, error)
	Disconnect() error
	IsConnected() bool
	Status() (remote.Status, string)
	Profile() storage.Profile
}

// Op names the operation a Result comes from
type Op string

const (
	OpList   Op = "list"
	OpRemove Op = "remove"
	OpRename Op = "rename"
	OpMkdir  Op = "mkdir"
	OpCreate Op = "create"
	OpCopy   Op = "copy"
	OpMove   Op = "move"

	OpDisconnect Op = "disconnect"
)

// Result is sent by the worker when a job finishes and must be handed to
// Apply on the UI goroutine.
type Result struct {
	PanelID int
	Gen     uint64
	Op      Op
	// Path is the directory Listing belongs to
	Path    string
	Listing *Listing
	Remote  bool
	Focus   string
	Attach  bool
	// Err is the failure of the operation itself
	Err error
}

// Panel is one side of the file manager. It is either local or has exactly
// one remote session attached. All methods must be called from the same
// goroutine; blocking work runs on the panel's worker.
type Panel struct {
	ID int

	fs      LocalFS
	worker  *Worker
	results chan<- Result
	ctx     context.Context
	cancel  context.CancelFunc

	path          string
	session       Session
	gen           uint64
	listing       Listing
	listingRemote bool
	entries       []Entry
	cursor        int
	sortKey       SortKey
	sortDesc      bool
	pendingFocus  string
	err           error
	fallbackErr   error
	switching     bool
	pending       int
	lastLocalPath string
	moves         map[string]pendingMove
}

type pendingMove struct {
	path    string
	isDir   bool
	session Session
}

// New creates a local panel showing dir. Results of its background jobs are
// sent on results, which may be shared between panels.
func New(id int, fs LocalFS, dir string, results chan<- Result) *Panel {
	if fs == nil {
		fs = OSFS{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		ID:            id,
		fs:            fs,
		worker:        NewWorker(),
		results:       results,
		ctx:           ctx,
		cancel:        cancel,
		path:          dir,
		lastLocalPath: dir,
		moves:         make(map[string]pendingMove),
	}
	p.Navigate(dir)
	return p
}

// Path is the directory of the current listing
func (p *Panel) Path() string { return p.path }

// IsRemote reports whether a session is attached
func (p *Panel) IsRemote() bool { return p.session != nil }

// Session returns the attached session, or nil
func (p *Panel) Session() Session { return p.session }

// Entries returns the sorted listing, ".." first
func (p *Panel) Entries() []Entry { return p.entries }

// Listing returns the raw listing including disk figures
func (p *Panel) Listing() Listing { return p.listing }

// Cursor is the index of the selected entry
func (p *Panel) Cursor() int { return p.cursor }

// Err is the last operation error, kept until the next one succeeds
func (p *Panel) Err() error { return p.err }

// ClearErr dismisses the last error
func (p *Panel) ClearErr() { p.err = nil }

// Busy reports whether jobs are still queued or running
func (p *Panel) Busy() bool { return p.pending > 0 }

// Sort returns the current sort key and direction
func (p *Panel) Sort() (SortKey, bool) { return p.sortKey, p.sortDesc }

// Header renders the panel title, user@host:/path for remote panels
func (p *Panel) Header() string {
	if p.session == nil {
		return p.path
	}
	h := address.FormatDisplay(p.session.Profile(), p.path)
	if status, reason := p.session.Status(); status != remote.StatusConnected {
		if reason != "" {
			return fmt.Sprintf("%s [%s: %s]", h, status, reason)
		}
		return fmt.Sprintf("%s [%s]", h, status)
	}
	return h
}

// Selected returns the entry under the cursor
func (p *Panel) Selected() (Entry, bool) {
	if p.cursor < 0 || p.cursor >= len(p.entries) {
		return Entry{}, false
	}
	return p.entries[p.cursor], true
}

// MoveCursor moves the selection by delta, clamped to the listing
func (p *Panel) MoveCursor(delta int) {
	p.cursor += delta
	p.clampCursor()
}

// SetCursor selects index i, clamped to the listing
func (p *Panel) SetCursor(i int) {
	p.cursor = i
	p.clampCursor()
}

// FocusAfterReload selects name once the next listing arrives, if present
func (p *Panel) FocusAfterReload(name string) {
	p.pendingFocus = name
}

// SetSort changes the order and keeps the current selection
func (p *Panel) SetSort(key SortKey, desc bool) {
	p.sortKey, p.sortDesc = key, desc
	focus := ""
	if e, ok := p.Selected(); ok {
		focus = e.Name
	}
	p.rebuild(focus)
}

// join resolves name against the panel directory with the backend's rules
func (p *Panel) join(name string) string {
	if p.session != nil {
		return path.Join(p.path, name)
	}
	return filepath.Join(p.path, name)
}

func (p *Panel) isRoot() bool {
	if p.session != nil || p.listingRemote {
		return path.Clean(p.path) == "/"
	}
	return filepath.Dir(p.path) == p.path
}

func (p *Panel) submit(job func()) {
	if p.worker.Submit(job) {
		p.pending++
	}
}

func (p *Panel) send(r Result) {
	select {
	case p.results <- r:
	case <-p.ctx.Done():
	}
}

// Navigate lists dir on the current backend. The path only changes once the
// listing succeeds.
func (p *Panel) Navigate(dir string) {
	p.navigate(dir, "")
}

func (p *Panel) navigate(dir, focus string) {
	if p.session != nil {
		dir = path.Clean(dir)
	} else {
		dir = filepath.Clean(dir)
	}
	p.submit(p.listJob(p.gen, p.session, dir, focus, false))
}

// Reload re-lists the current directory keeping the selection. It does
// nothing while a backend switch is still loading.
func (p *Panel) Reload() {
	if p.switching {
		return
	}
	focus := ""
	if e, ok := p.Selected(); ok {
		focus = e.Name
	}
	p.navigate(p.path, focus)
}

// Enter opens the selected directory, or goes up for "..". It reports false
// when the selection is a file.
func (p *Panel) Enter() bool {
	e, ok := p.Selected()
	if !ok || !e.IsDir {
		return false
	}
	if e.IsParent() {
		p.Up()
		return true
	}
	p.navigate(p.join(e.Name), "")
	return true
}

// Up lists the parent directory and selects the one we came from
func (p *Panel) Up() {
	if p.switching || p.isRoot() {
		return
	}
	if p.session != nil {
		p.navigate(path.Dir(p.path), path.Base(p.path))
		return
	}
	p.navigate(filepath.Dir(p.path), filepath.Base(p.path))
}

// Attach makes s the panel's backend and lists dir on it, or the remote
// working directory when dir is empty. A previously attached session is
// disconnected first. If the first listing fails the panel goes back to its
// last local directory.
func (p *Panel) Attach(s Session, dir string) {
	old := p.session
	if old == nil {
		p.lastLocalPath = p.path
	}
	p.session = s
	p.gen++
	gen := p.gen
	p.resetListing(true)

	if old != nil {
		p.submit(p.disconnectJob(old))
	}
	p.submit(func() {
		target := dir
		if target == "" {
			wd, err := s.Getwd(p.ctx)
			if err != nil {
				p.send(Result{PanelID: p.ID, Gen: gen, Op: OpList, Attach: true, Remote: true, Err: err})
				return
			}
			target = wd
		}
		p.listJob(gen, s, path.Clean(target), "", true)()
	})
}

// Detach disconnects the attached session. The caller is expected to
// navigate to a local directory next; the disconnect is queued ahead of it.
func (p *Panel) Detach() {
	if p.session == nil {
		return
	}
	s := p.session
	p.session = nil
	p.gen++
	p.resetListing(false)
	p.submit(p.disconnectJob(s))
}

// resetListing drops the listing of the previous backend. Until the new
// backend's first listing is applied nothing can be selected and mutations
// fail with ErrLoading.
func (p *Panel) resetListing(remote bool) {
	p.listing = Listing{}
	p.entries = nil
	p.cursor = 0
	p.listingRemote = remote
	p.pendingFocus = ""
	p.switching = true
}

func (p *Panel) ready() error {
	if p.switching {
		return ErrLoading
	}
	return nil
}

// NavigateLocal tears down any attached session and lists a local directory
func (p *Panel) NavigateLocal(dir string) {
	p.Detach()
	p.Navigate(dir)
}

func (p *Panel) disconnectJob(s Session) func() {
	return func() {
		s.Disconnect()
		p.send(Result{PanelID: p.ID, Gen: ^uint64(0), Op: OpDisconnect})
	}
}

func (p *Panel) listJob(gen uint64, s Session, dir, focus string, attach bool) func() {
	return func() {
		r := Result{PanelID: p.ID, Gen: gen, Op: OpList, Path: dir, Focus: focus, Attach: attach, Remote: s != nil}
		l, err := p.list(s, dir)
		if err != nil {
			r.Err = err
		} else {
			r.Listing = &l
		}
		p.send(r)
	}
}

func (p *Panel) list(s Session, dir string) (Listing, error) {
	if s != nil {
		remoteEntries, err := s.ListDir(p.ctx, dir)
		if err != nil {
			return Listing{}, err
		}
		entries := make([]Entry, 0, len(remoteEntries))
		for _, re := range remoteEntries {
			entries = append(entries, fromRemote(re))
		}
		return Listing{Entries: entries}, nil
	}

	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return Listing{}, err
	}
	l := Listing{Entries: entries}
	if total, free, err := p.fs.DiskUsage(dir); err == nil {
		l.DiskTotal, l.DiskFree = total, free
	}
	return l, nil
}

// mutate runs fn on the worker against the current backend and then
// re-lists the current directory.
func (p *Panel) mutate(op Op, focus string, fn func(ctx context.Context, s Session) error) {
	gen, s, dir := p.gen, p.session, p.path
	p.submit(func() {
		err := fn(p.ctx, s)
		if err != nil {
			slog.Debug("panel operation failed", "panel", p.ID, "op", op, "error", err)
		}
		r := Result{PanelID: p.ID, Gen: gen, Op: op, Path: dir, Focus: focus, Remote: s != nil, Err: err}
		if l, lerr := p.list(s, dir); lerr == nil {
			r.Listing = &l
		} else if err == nil {
			r.Err = lerr
		}
		p.send(r)
	})
}

func validName(name string) error {
	if name == "" || name == "." || name == ParentName || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Remove deletes the selected entry, recursively for directories
func (p *Panel) Remove() error {
	if err := p.ready(); err != nil {
		return err
	}
	e, ok := p.Selected()
	if !ok || e.IsParent() {
		return ErrNoSelection
	}
	target := p.join(e.Name)
	p.mutate(OpRemove, "", func(ctx context.Context, s Session) error {
		if s != nil {
			return s.Remove(ctx, target, e.IsDir)
		}
		return p.fs.Remove(target, e.IsDir)
	})
	return nil
}

// Rename renames the selected entry within the current directory
func (p *Panel) Rename(newName string) error {
	if err := p.ready(); err != nil {
		return err
	}
	e, ok := p.Selected()
	if !ok || e.IsParent() {
		return ErrNoSelection
	}
	if err := validName(newName); err != nil {
		return err
	}
	oldPath, newPath := p.join(e.Name), p.join(newName)
	p.mutate(OpRename, newName, func(ctx context.Context, s Session) error {
		if s != nil {
			return s.Rename(ctx, oldPath, newPath)
		}
		return p.fs.Rename(oldPath, newPath)
	})
	return nil
}

// Mkdir creates a directory in the current directory
func (p *Panel) Mkdir(name string) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	target := p.join(name)
	p.mutate(OpMkdir, name, func(ctx context.Context, s Session) error {
		if s != nil {
			return s.Mkdir(ctx, target)
		}
		return p.fs.Mkdir(target)
	})
	return nil
}

// CreateFile creates an empty file in the current directory
func (p *Panel) CreateFile(name string) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	target := p.join(name)
	p.mutate(OpCreate, name, func(ctx context.Context, s Session) error {
		if s != nil {
			return s.CreateFile(ctx, target)
		}
		return p.fs.CreateFile(target)
	})
	return nil
}

// Apply folds a worker result into the panel. Results from a backend that
// has since been replaced are dropped; Apply then reports false.
func (p *Panel) Apply(r Result) bool {
	if r.PanelID != p.ID {
		return false
	}
	if p.pending > 0 {
		p.pending--
	}
	if r.Gen != p.gen {
		return false
	}

	p.err = r.Err
	if r.Listing != nil {
		p.path = r.Path
		p.listing = *r.Listing
		p.listingRemote = r.Remote
		if !r.Remote {
			p.lastLocalPath = r.Path
		}
		p.switching = false
		p.rebuild(r.Focus)
		if p.err == nil {
			p.err = p.fallbackErr
		}
		p.fallbackErr = nil
	}

	switch {
	case r.Err != nil && r.Attach:
		p.attachFailed()
	case r.Err != nil && r.Op == OpList && p.switching && p.session == nil && r.Path != p.lastLocalPath:
		// the first local listing after a detach failed
		p.fallbackErr = r.Err
		p.Navigate(p.lastLocalPath)
	}
	return true
}

// attachFailed detaches the session and shows the last local directory again
func (p *Panel) attachFailed() {
	slog.Warn("attach failed, falling back to local", "panel", p.ID, "error", p.err)
	p.fallbackErr = p.err
	p.Detach()
	p.Navigate(p.lastLocalPath)
}

// rebuild sorts the listing and repairs the cursor
func (p *Panel) rebuild(focus string) {
	entries := make([]Entry, 0, len(p.listing.Entries)+1)
	if !p.isRoot() {
		entries = append(entries, Entry{Name: ParentName, IsDir: true})
	}
	sorted := append([]Entry(nil), p.listing.Entries...)
	sortEntries(sorted, p.sortKey, p.sortDesc)
	p.entries = append(entries, sorted...)

	want := focus
	if want == "" {
		want = p.pendingFocus
	}
	p.pendingFocus = ""
	if want != "" {
		for i, e := range p.entries {
			if e.Name == want {
				p.cursor = i
				return
			}
		}
	}
	p.clampCursor()
}

func (p *Panel) clampCursor() {
	if p.cursor >= len(p.entries) {
		p.cursor = len(p.entries) - 1
	}
	if p.cursor < 0 {
		p.cursor = 0
	}
}

// Enqueuer accepts transfer plans, usually a *transfer.Queue
type Enqueuer interface {
	Enqueue(plan transfer.Plan) (*transfer.Task, error)
}

// CopyTo copies the selected entry into dst's directory. Local to local
// copies run on the panel worker and return a nil task; dst should be
// reloaded when their OpCopy or OpMove result is applied. Copies involving a
// remote panel become a transfer plan on q. With move set the source is
// removed once the copy has succeeded.
func (p *Panel) CopyTo(dst *Panel, q Enqueuer, move bool) (*transfer.Task, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := dst.ready(); err != nil {
		return nil, err
	}
	e, ok := p.Selected()
	if !ok || e.IsParent() {
		return nil, ErrNoSelection
	}
	if p.session != nil && dst.session != nil {
		return nil, ErrRemoteToRemote
	}

	src := p.join(e.Name)
	destDir := dst.path
	op := OpCopy
	if move {
		op = OpMove
	}

	if p.session == nil && dst.session == nil {
		p.mutate(op, "", func(ctx context.Context, _ Session) error {
			if err := p.fs.Copy(ctx, src, destDir); err != nil {
				return err
			}
			if move {
				return p.fs.Remove(src, e.IsDir)
			}
			return nil
		})
		return nil, nil
	}

	var plan transfer.Plan
	var s Session
	if p.session != nil {
		s = p.session
		plan = transfer.NewPlan(transfer.Download, src, destDir, e.IsDir, s.Profile())
	} else {
		s = dst.session
		plan = transfer.NewPlan(transfer.Upload, src, destDir, e.IsDir, s.Profile())
	}
	if !s.IsConnected() {
		return nil, remote.ErrNotConnected
	}
	if q == nil {
		return nil, errors.New("no transfer queue")
	}

	task, err := q.Enqueue(plan)
	if err != nil {
		return nil, err
	}
	if move {
		p.moves[plan.ID] = pendingMove{path: src, isDir: e.IsDir, session: p.session}
	}
	return task, nil
}

// TransferFinished completes a move once its transfer has succeeded and
// refreshes the panel. It reports whether the update concerned this panel.
func (p *Panel) TransferFinished(u transfer.TaskUpdate) bool {
	if !u.State.Done() {
		return false
	}
	m, ok := p.moves[u.PlanID]
	if !ok {
		return false
	}
	delete(p.moves, u.PlanID)
	if u.State != transfer.TaskCompleted {
		return true
	}
	if m.session != p.session {
		slog.Warn("source backend changed during move, keeping source", "panel", p.ID, "path", m.path)
		return true
	}
	p.mutate(OpMove, "", func(ctx context.Context, s Session) error {
		if s != nil {
			return s.Remove(ctx, m.path, m.isDir)
		}
		return p.fs.Remove(m.path, m.isDir)
	})
	return true
}

// Close disconnects any session and stops the worker. Jobs still queued
// are abandoned.
func (p *Panel) Close() {
	s := p.session
	p.session = nil
	p.cancel()
	if s != nil {
		p.worker.Submit(func() { s.Disconnect() })
	}
	p.worker.Close()
}
