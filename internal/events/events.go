// Package events publishes leave decisions to interested consumers.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pavelanni/leaveportal/internal/model"
)

// Publisher delivers leave-decision events. Publishing happens after the
// decision is committed; failures are reported but never undo the decision.
type Publisher interface {
	PublishLeaveDecided(ctx context.Context, ev model.LeaveDecidedEvent) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) PublishLeaveDecided(_ context.Context, ev model.LeaveDecidedEvent) error {
	slog.Debug("leave decided event dropped", "leave_id", ev.LeaveID, "status", ev.Status)
	return nil
}

func (Noop) Close() error { return nil }

// Memory keeps published events in memory.
type Memory struct {
	mu     sync.Mutex
	events []model.LeaveDecidedEvent
}

func (m *Memory) PublishLeaveDecided(_ context.Context, ev model.LeaveDecidedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []model.LeaveDecidedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LeaveDecidedEvent(nil), m.events...)
}

// Emit publishes ev through p and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, ev model.LeaveDecidedEvent) {
	if p == nil {
		return
	}
	if err := p.PublishLeaveDecided(ctx, ev); err != nil {
		slog.Error("failed to publish leave decided event", "leave_id", ev.LeaveID, "status", ev.Status, "error", err)
	}
}
