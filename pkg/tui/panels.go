package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/quocson95/duopane/pkg/panel"
)

// renderPanel draws one side of the file manager, without its border
func renderPanel(p *panel.Panel, width, height int) string {
	var b strings.Builder

	if p.IsRemote() {
		b.WriteString(remoteTitleStyle.Render("🌐 Remote"))
	} else {
		b.WriteString(localTitleStyle.Render("💻 Local"))
	}
	if p.Busy() {
		b.WriteString(dimStyle.Render(" …"))
	}
	key, desc := p.Sort()
	order := "↑"
	if desc {
		order = "↓"
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("  [%s %s]", key, order)))
	b.WriteString("\n")

	b.WriteString(pathStyle.Render(truncateLeft(p.Header(), width-4)))
	b.WriteString("\n\n")

	// Overhead: title, path, spacing and the footer
	displayCount := height - 5
	if displayCount < 5 {
		displayCount = 5
	}

	entries := p.Entries()
	cursor := p.Cursor()
	startIdx := 0
	if cursor > displayCount/2 && len(entries) > displayCount {
		startIdx = cursor - displayCount/2
	}
	endIdx := startIdx + displayCount
	if endIdx > len(entries) {
		endIdx = len(entries)
		startIdx = max(0, endIdx-displayCount)
	}

	for i := startIdx; i < endIdx; i++ {
		b.WriteString(renderEntry(entries[i], i == cursor, width))
		b.WriteString("\n")
	}
	for i := endIdx - startIdx; i < displayCount; i++ {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(footer(p)))
	return b.String()
}

func renderEntry(e panel.Entry, selected bool, width int) string {
	cursor := "  "
	style := itemStyle
	if e.IsDir {
		style = dirItemStyle
	}
	if selected {
		cursor = "→ "
		style = selectedItemStyle
	}

	icon := "📄"
	size := formatSize(e.Size)
	switch {
	case e.IsParent():
		icon = "⬆️ "
		size = ""
	case e.IsDir:
		icon = "📁"
		size = "<DIR>"
	case e.IsSymlink:
		icon = "🔗"
	}

	nameWidth := width - 18
	if nameWidth < 8 {
		nameWidth = 8
	}
	name := e.Name
	if lipgloss.Width(name) > nameWidth {
		name = truncateRight(name, nameWidth)
	}

	line := fmt.Sprintf("%s %-*s %9s", icon, nameWidth, name, size)
	return cursor + style.Render(line)
}

// footer shows the entry count and, for local panels, free space
func footer(p *panel.Panel) string {
	n := 0
	for _, e := range p.Entries() {
		if !e.IsParent() {
			n++
		}
	}
	s := fmt.Sprintf("%d items", n)
	if l := p.Listing(); !p.IsRemote() && l.DiskTotal > 0 {
		s += fmt.Sprintf(" • %s free of %s", formatSize(int64(l.DiskFree)), formatSize(int64(l.DiskTotal)))
	}
	return s
}

func truncateLeft(s string, width int) string {
	if width < 4 || len(s) <= width {
		return s
	}
	return "..." + s[len(s)-(width-3):]
}

func truncateRight(s string, width int) string {
	r := []rune(s)
	if width < 4 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(bytesSec float64) string {
	if bytesSec < 1024 {
		return fmt.Sprintf("%.0f B/s", bytesSec)
	} else if bytesSec < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesSec/1024)
	} else {
		return fmt.Sprintf("%.1f MB/s", bytesSec/(1024*1024))
	}
}
