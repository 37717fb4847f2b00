// Package notify delivers failure notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a message out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, title, body string) error {
	n.logger.WarnContext(ctx, "notification", "title", title, "body", body)
	return nil
}

// New returns the daemon's notifier: the log always, plus Bark throttled to
// barkBurst messages per barkInterval when barkURL is set.
func New(logger *slog.Logger, barkURL string, barkInterval time.Duration, barkBurst int) (*MultiNotifier, error) {
	notifiers := []Notifier{NewLogNotifier(logger)}
	if barkURL != "" {
		bark, err := NewBarkNotifier(barkURL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, NewRateLimited(bark, barkInterval, barkBurst, logger))
	}
	return NewMultiNotifier(notifiers...), nil
}

// RateLimited drops messages that exceed a token-bucket budget.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRateLimited allows one message per interval with the given burst.
func NewRateLimited(next Notifier, interval time.Duration, burst int, logger *slog.Logger) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		logger:  logger,
	}
}

func (r *RateLimited) Send(ctx context.Context, title, body string) error {
	if !r.limiter.Allow() {
		r.logger.Info("notification throttled", "title", title)
		return nil
	}
	return r.next.Send(ctx, title, body)
}
