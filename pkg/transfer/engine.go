package transfer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind is the type of a transfer Event
type EventKind int

const (
	EventStart EventKind = iota
	EventProgress
	EventDone
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventProgress:
		return "progress"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no more events follow
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventFailed || k == EventCancelled
}

// Event is delivered to the sink passed to Run. A run emits EventStart,
// zero or more EventProgress and exactly one terminal event.
type Event struct {
	Kind     EventKind
	PlanID   string
	Tool     string
	Progress Progress
	Err      error
}

// EventSink receives transfer events. It is called from the goroutine
// reading the subprocess output and must not block for long.
type EventSink func(Event)

const (
	defaultStderrLimit = 64 * 1024
	defaultWaitDelay   = 3 * time.Second
)

// Engine runs transfers through rsync or scp
type Engine struct {
	capabilities   CapabilityCheck
	disableRsync   atomic.Bool
	stderrLimit    int
	waitDelay      time.Duration
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Option configures an Engine
type Option func(*Engine)

// WithDisableRsync forces scp even when rsync is installed
func WithDisableRsync(disable bool) Option {
	return func(e *Engine) { e.disableRsync.Store(disable) }
}

// SetDisableRsync switches the transfer tool for plans started afterwards
func (e *Engine) SetDisableRsync(disable bool) {
	e.disableRsync.Store(disable)
}

// WithStderrLimit caps how much error output is kept for a TransferError
func WithStderrLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.stderrLimit = n
		}
	}
}

// NewEngine creates an engine. A nil check probes PATH.
func NewEngine(check CapabilityCheck, opts ...Option) *Engine {
	if check == nil {
		check = SystemCapabilities
	}
	e := &Engine{
		capabilities:   check,
		stderrLimit:    defaultStderrLimit,
		waitDelay:      defaultWaitDelay,
		commandContext: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Command builds the invocation Run would spawn for plan
func (e *Engine) Command(plan Plan) (Command, error) {
	return BuildCommand(plan, e.capabilities(), e.disableRsync.Load())
}

// Run executes plan and blocks until the subprocess exits. Cancelling ctx
// kills the subprocess; the run then ends with EventCancelled and
// ErrCancelled. Failures are never retried.
func (e *Engine) Run(ctx context.Context, plan Plan, sink EventSink) error {
	if sink == nil {
		sink = func(Event) {}
	}

	c, err := e.Command(plan)
	if err != nil {
		tool := ""
		var terr *TransferError
		if errors.As(err, &terr) {
			tool = terr.Tool
		}
		log.Printf("[ERROR] Transfer %s: %v", plan.ID, err)
		sink(Event{Kind: EventStart, PlanID: plan.ID, Tool: tool})
		sink(Event{Kind: EventFailed, PlanID: plan.ID, Tool: tool, Err: err})
		return err
	}
	sink(Event{Kind: EventStart, PlanID: plan.ID, Tool: c.Tool})

	if err := ctx.Err(); err != nil {
		sink(Event{Kind: EventCancelled, PlanID: plan.ID, Tool: c.Tool, Err: ErrCancelled})
		return ErrCancelled
	}

	log.Printf("[INFO] Transfer %s: %s", plan.ID, c)

	cmd := e.commandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(cmd.Environ(), c.Env...)
	cmd.WaitDelay = e.waitDelay

	// Stdout goes through a pipe we own so Wait is not held up by a
	// grandchild keeping the descriptor open after a kill.
	pr, pw := io.Pipe()
	stderr := newTailBuffer(e.stderrLimit)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		pw.Close()
		terr := &TransferError{Tool: c.Tool, ExitCode: -1, Err: err}
		log.Printf("[ERROR] Transfer %s: %v", plan.ID, terr)
		sink(Event{Kind: EventFailed, PlanID: plan.ID, Tool: c.Tool, Err: terr})
		return terr
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeOutput(pr, c.Tool == ToolRsync, func(p Progress) {
			sink(Event{Kind: EventProgress, PlanID: plan.ID, Tool: c.Tool, Progress: p})
		})
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done

	if ctx.Err() != nil {
		log.Printf("[INFO] Transfer %s cancelled", plan.ID)
		sink(Event{Kind: EventCancelled, PlanID: plan.ID, Tool: c.Tool, Err: ErrCancelled})
		return ErrCancelled
	}

	if waitErr != nil {
		terr := &TransferError{Tool: c.Tool, ExitCode: -1, Stderr: stderr.String(), Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			terr.ExitCode = exitErr.ExitCode()
		}
		log.Printf("[ERROR] Transfer %s failed: %v", plan.ID, terr)
		sink(Event{Kind: EventFailed, PlanID: plan.ID, Tool: c.Tool, Err: terr})
		return terr
	}

	log.Printf("[INFO] Transfer %s completed", plan.ID)
	sink(Event{Kind: EventDone, PlanID: plan.ID, Tool: c.Tool})
	return nil
}

// consumeOutput reads r to EOF. Progress lines are reported only when
// parse is set; everything else is discarded.
func consumeOutput(r io.Reader, parse bool, report func(Progress)) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesAndCR)
	for scanner.Scan() {
		if !parse {
			continue
		}
		if p, ok := ParseProgress(scanner.Text()); ok {
			report(p)
		}
	}
	// drain whatever the scanner refused, e.g. an over-long line
	io.Copy(io.Discard, r)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
