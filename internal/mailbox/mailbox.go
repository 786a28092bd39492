// Package mailbox waits for a one-time passcode email and extracts the code.
//
// Waiting is a single blocking call with an explicit timeout that also honours
// context cancellation. The outcome is a Result rather than a callback.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is how long an OTP email is waited for.
const DefaultTimeout = 60 * time.Second

// DefaultPollInterval is how often the source is re-read while waiting.
const DefaultPollInterval = 2 * time.Second

// Email is one message as read from a Source.
type Email struct {
	ID      string // Source-specific handle, passed back to Remove
	From    string
	Subject string
	Date    time.Time
	Body    string // Decoded body, HTML preferred over plain text
}

// Source lists the messages currently in a mailbox.
type Source interface {
	List(ctx context.Context) ([]Email, error)
	// Remove deletes a consumed message so it cannot match a later wait.
	Remove(ctx context.Context, id string) error
}

// Status is the outcome of a wait.
type Status int

const (
	StatusFound Status = iota
	StatusTimeout
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is what Wait returns. Email is set only for StatusFound, Err only for
// StatusError.
type Result struct {
	Status Status
	Email  *Email
	Err    error
}

// Predicate selects the message being waited for.
type Predicate func(Email) bool

// SubjectIs matches messages whose subject equals subject exactly.
func SubjectIs(subject string) Predicate {
	return func(e Email) bool { return e.Subject == subject }
}

// Waiter polls a Source until a message matches.
type Waiter struct {
	source   Source
	interval time.Duration
	since    time.Time // messages dated before this are ignored; zero = no bound
	log      zerolog.Logger
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Waiter) { w.interval = d }
}

// WithSince ignores messages dated before t (stale codes from earlier logins).
func WithSince(t time.Time) Option {
	return func(w *Waiter) { w.since = t }
}

// WithLogger sets the logger used for poll diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Waiter) { w.log = log }
}

// NewWaiter creates a waiter over source.
func NewWaiter(source Source, opts ...Option) (*Waiter, error) {
	if source == nil {
		return nil, errors.New("mailbox source cannot be nil")
	}
	w := &Waiter{source: source, interval: DefaultPollInterval, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", w.interval)
	}
	return w, nil
}

// Wait blocks until a message satisfying match arrives, timeout elapses or ctx
// is done. The matched message is removed from the source; a failed removal is
// logged and does not change the result.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration, match Predicate) Result {
	if match == nil {
		return Result{Status: StatusError, Err: errors.New("predicate cannot be nil")}
	}
	if timeout <= 0 {
		return Result{Status: StatusError, Err: fmt.Errorf("timeout must be positive, got %s", timeout)}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		email, err := w.poll(ctx, match)
		if err != nil {
			return Result{Status: StatusError, Err: err}
		}
		if email != nil {
			if err := w.source.Remove(ctx, email.ID); err != nil {
				w.log.Warn().Err(err).Str("email", email.ID).Msg("failed to remove consumed email")
			}
			return Result{Status: StatusFound, Email: email}
		}

		select {
		case <-ctx.Done():
			return Result{Status: StatusError, Err: ctx.Err()}
		case <-deadline.C:
			return Result{Status: StatusTimeout}
		case <-ticker.C:
		}
	}
}

func (w *Waiter) poll(ctx context.Context, match Predicate) (*Email, error) {
	emails, err := w.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox: %w", err)
	}
	w.log.Debug().Int("emails", len(emails)).Msg("polled mailbox")

	for i := range emails {
		e := emails[i]
		if !w.since.IsZero() && !e.Date.IsZero() && e.Date.Before(w.since) {
			continue
		}
		if match(e) {
			return &e, nil
		}
	}
	return nil, nil
}
