// Package alert notifies operators when a prompt pool runs dry.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uohspeech/collector/internal/logging"
)

// DefaultCooldown is the minimum gap between two alerts with the same subject.
const DefaultCooldown = time.Hour

// Sender delivers one alert.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Notifier rate-limits alerts per subject across the whole process.
type Notifier struct {
	sender   Sender
	cooldown time.Duration
	now      func() time.Time
	log      logging.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewNotifier(sender Sender, cooldown time.Duration, log logging.Logger) *Notifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Notifier{
		sender:   sender,
		cooldown: cooldown,
		now:      time.Now,
		log:      log.With("component", "alert"),
		lastSent: make(map[string]time.Time),
	}
}

// WithClock replaces the time source and returns the notifier.
func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// Alert sends subject/body unless the same subject went out within the
// cooldown. The send time is recorded before delivery, so a failed send
// still suppresses retries until the cooldown passes.
func (n *Notifier) Alert(ctx context.Context, subject, body string) (bool, error) {
	now := n.now()

	n.mu.Lock()
	last, seen := n.lastSent[subject]
	if seen && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		n.log.Debug(ctx, "alert suppressed", "subject", subject, "last_sent", last)
		return false, nil
	}
	n.lastSent[subject] = now
	n.mu.Unlock()

	if err := n.sender.Send(ctx, subject, body); err != nil {
		n.log.Error(ctx, "alert delivery failed", "subject", subject, "error", err)
		return false, fmt.Errorf("send alert: %w", err)
	}
	n.log.Info(ctx, "alert sent", "subject", subject)
	return true, nil
}

// LogSender writes alerts to the log. Used when SMTP is not configured.
type LogSender struct {
	Log logging.Logger
}

func (s LogSender) Send(ctx context.Context, subject, body string) error {
	s.Log.Warn(ctx, "operator alert", "subject", subject, "body", body)
	return nil
}
