package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/loqalabs/loqa-scribe/internal/evaluate"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// Console is the human-facing diagnostic stream. Every line carries a
// bracketed tag: [Info], [Warn], [Partial], [Final] or [Eval].
type Console struct {
	// ReferenceName is shown when evaluation is skipped.
	ReferenceName string

	mu      sync.Mutex
	out     io.Writer
	info    *color.Color
	warn    *color.Color
	partial *color.Color
	final   *color.Color
	eval    *color.Color
}

func NewConsole(out io.Writer, colorize bool) *Console {
	c := &Console{
		ReferenceName: "reference.txt",
		out:           out,
		info:          color.New(color.FgCyan),
		warn:          color.New(color.FgYellow, color.Bold),
		partial:       color.New(color.Faint),
		final:         color.New(color.FgGreen),
		eval:          color.New(color.FgMagenta),
	}
	for _, col := range []*color.Color{c.info, c.warn, c.partial, c.final, c.eval} {
		if colorize {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) print(col *color.Color, tag, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = col.Fprintf(c.out, "[%s] %s\n", tag, msg)
}

func (c *Console) Infof(format string, args ...any) {
	c.print(c.info, "Info", fmt.Sprintf(format, args...))
}

func (c *Console) Warnf(format string, args ...any) {
	c.print(c.warn, "Warn", fmt.Sprintf(format, args...))
}

func (c *Console) Decoded(_ context.Context, _ string, evt stt.Event) {
	if evt.Kind == stt.Final {
		c.print(c.final, "Final", evt.Text)
		return
	}
	c.print(c.partial, "Partial", evt.Text)
}

func (c *Console) StateChanged(_ context.Context, _ string, st State) {
	switch st {
	case StateCapturing:
		c.Infof("Real-time STT loop started. Speak into your microphone.")
	case StateStopping:
		c.Infof("Stop requested.")
	}
}

func (c *Console) Evaluated(_ context.Context, _ string, rec evaluate.MetricRecord, err error) {
	switch {
	case errors.Is(err, evaluate.ErrNoReference):
		c.print(c.eval, "Eval", fmt.Sprintf("No %s found. Skipping WER.", c.ReferenceName))
		return
	case !recordComputed(err):
		c.Warnf("Evaluation failed: %v", err)
		return
	}
	c.print(c.eval, "Eval", fmt.Sprintf("WER computed: %.2f", rec.WER))
	if err != nil {
		c.Warnf("Could not append metrics log: %v", err)
	}
}

func (c *Console) DeviceStatus(_ context.Context, _ string, msg string) {
	c.Warnf("Audio device: %s", msg)
}
