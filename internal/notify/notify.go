// Package notify delivers end-of-run messages to the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Level tells the operator whether a message needs attention.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Message is one notification. Lines hold details such as individual write
// errors and are rendered after the subject.
type Message struct {
	Level   Level     `json:"level"`
	Subject string    `json:"subject"`
	Lines   []string  `json:"lines,omitempty"`
	Time    time.Time `json:"time"`
}

// Text renders the message as plain text: the subject, then one line per detail.
func (m Message) Text() string {
	if len(m.Lines) == 0 {
		return m.Subject
	}
	var b strings.Builder
	b.WriteString(m.Subject)
	for _, line := range m.Lines {
		b.WriteString("\n  - ")
		b.WriteString(line)
	}
	return b.String()
}

// Notifier sends a message somewhere the operator will see it.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Console writes messages to a terminal stream, errors in red.
type Console struct {
	out io.Writer
}

// NewConsole creates a console notifier. A nil writer means stderr.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{out: out}
}

var (
	consoleError = color.New(color.FgRed, color.Bold)
	consoleInfo  = color.New(color.FgGreen)
)

// Notify implements Notifier.
func (c *Console) Notify(_ context.Context, msg Message) error {
	paint := consoleInfo
	if msg.Level == LevelError {
		paint = consoleError
	}
	if _, err := paint.Fprintf(c.out, "[%s] %s\n", msg.Level, msg.Subject); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	for _, line := range msg.Lines {
		if _, err := fmt.Fprintf(c.out, "  - %s\n", line); err != nil {
			return fmt.Errorf("failed to write notification: %w", err)
		}
	}
	return nil
}

// Multi fans a message out to every notifier. All of them are tried; the
// errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every message.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Message) error { return nil }
