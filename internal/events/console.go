// Package events renders and distributes filter drop events: a console
// stream for operators and a NATS subject for dashboards.
package events

import (
	"Go2NetGuard/internal/model"
	"fmt"
	"io"
	"strings"
	"sync"
)

// TimeLayout is the local-time layout of console drop lines.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Console serialises writes to an output stream so lines from concurrent
// capture goroutines never interleave. It is both a model.Notifier and an
// io.Writer for summary blocks.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole wraps out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Notify writes one drop line.
func (c *Console) Notify(ev *model.DropEvent) {
	line := FormatDrop(ev)
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, line)
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Block writes a multi-line block in one piece.
func (c *Console) Block(fn func(w io.Writer)) {
	var sb strings.Builder
	fn(&sb)
	c.Write([]byte(sb.String()))
}

// FormatDrop renders ev as a single console line.
func FormatDrop(ev *model.DropEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s DROP] %s | %s:%d → %s:%d | proto=%s",
		ev.Stage.Marker(), ev.Stage, ev.Timestamp.Local().Format(TimeLayout),
		ev.SrcIP, ev.SrcPort, ev.DstIP, ev.DstPort, ev.Protocol)
	if ev.Stage == model.StageRateLimit {
		fmt.Fprintf(&sb, " | tokens=%.2f/%.1f", ev.Tokens, ev.MaxTokens)
	}
	fmt.Fprintf(&sb, " | reason=%s | payload=%s\n", ev.Reason, ev.Payload)
	return sb.String()
}
