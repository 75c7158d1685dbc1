// Package idle tracks per-conversation inactivity timers. Every inbound
// message resets the conversation's timer; when one fires, the dialog layer
// finalizes the conversation.
package idle

import (
	"log/slog"
	"sync"
	"time"
)

// Timers is an arena of per-phone timers. Handles are removed on fire and on
// stop, so the map never leaks finished conversations.
type Timers struct {
	logger *slog.Logger

	mu      sync.Mutex
	byPhone map[string]*time.Timer
}

func NewTimers(logger *slog.Logger) *Timers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timers{logger: logger, byPhone: make(map[string]*time.Timer)}
}

// Reset cancels any pending timer for phone and starts a new one that calls
// fn after d. fn runs on the timer goroutine.
func (t *Timers) Reset(phone string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byPhone[phone]; ok {
		old.Stop()
	}
	t.byPhone[phone] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.byPhone, phone)
		t.mu.Unlock()
		t.logger.Info("idle_timer_fired", "phone", phone)
		fn()
	})
	t.logger.Debug("idle_timer_reset", "phone", phone, "after", d.String())
}

// Stop cancels the timer for phone, if any.
func (t *Timers) Stop(phone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.byPhone[phone]; ok {
		timer.Stop()
		delete(t.byPhone, phone)
	}
}

// StopAll cancels every pending timer. Used on shutdown.
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for phone, timer := range t.byPhone {
		timer.Stop()
		delete(t.byPhone, phone)
	}
}

// Len reports the number of armed timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPhone)
}
