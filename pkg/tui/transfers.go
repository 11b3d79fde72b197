package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/quocson95/duopane/pkg/transfer"
)

// finishedKept is how many finished transfers stay on screen
const finishedKept = 3

// transferList mirrors the queue from its updates
type transferList struct {
	tasks map[int]transfer.TaskUpdate
	order []int
	bar   progress.Model
}

func newTransferList() *transferList {
	return &transferList{
		tasks: make(map[int]transfer.TaskUpdate),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

// apply records an update and forgets the oldest finished tasks
func (l *transferList) apply(u transfer.TaskUpdate) {
	if _, ok := l.tasks[u.TaskID]; !ok {
		l.order = append(l.order, u.TaskID)
	}
	l.tasks[u.TaskID] = u

	finished := 0
	for i := len(l.order) - 1; i >= 0; i-- {
		id := l.order[i]
		if !l.tasks[id].State.Done() {
			continue
		}
		finished++
		if finished > finishedKept {
			delete(l.tasks, id)
			l.order = append(l.order[:i], l.order[i+1:]...)
		}
	}
}

// counts returns active, pending and finished totals
func (l *transferList) counts() (active, pending, done int) {
	for _, u := range l.tasks {
		switch {
		case u.State == transfer.TaskRunning:
			active++
		case u.State == transfer.TaskPending:
			pending++
		default:
			done++
		}
	}
	return
}

func (l *transferList) empty() bool { return len(l.order) == 0 }

func (l *transferList) View() string {
	if l.empty() {
		return ""
	}

	var b strings.Builder
	active, pending, _ := l.counts()
	b.WriteString(dimStyle.Render(fmt.Sprintf("Transfers • active: %d • pending: %d", active, pending)))

	for _, id := range l.order {
		u := l.tasks[id]
		b.WriteString("\n")
		name := truncateRight(u.Name, 24)
		switch u.State {
		case transfer.TaskRunning:
			p := u.Progress
			line := fmt.Sprintf("🚀 %-24s %s %3d%%", name, l.bar.ViewAs(float64(p.Percent)/100), p.Percent)
			if p.BytesPerSec > 0 {
				line += " " + formatSpeed(p.BytesPerSec)
			}
			if p.ETA != "" {
				line += " ETA " + p.ETA
			}
			b.WriteString(line)
		case transfer.TaskPending:
			b.WriteString(dimStyle.Render(fmt.Sprintf("⏳ %-24s queued", name)))
		case transfer.TaskCompleted:
			b.WriteString(successStyle.UnsetMarginLeft().Render(fmt.Sprintf("✓ %-24s done", name)))
		case transfer.TaskCancelled:
			b.WriteString(dimStyle.Render(fmt.Sprintf("✗ %-24s cancelled", name)))
		default:
			b.WriteString(errorStyle.UnsetMarginLeft().Render(fmt.Sprintf("✗ %-24s %s", name, u.Error)))
		}
	}
	return b.String()
}
