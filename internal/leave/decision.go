package leave

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/leaveportal/internal/events"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Decide applies d to l inside the caller's transaction. Moving to approved
// deducts TotalDays from the student's balance at most once per leave.
func Decide(ctx context.Context, q *store.Queries, l *model.Leave, d model.LeaveDecision) error {
	l.Status = d.Status
	if d.Remarks != "" {
		l.AdminRemarks = d.Remarks
	}
	if d.ReviewedBy != "" {
		reviewer := d.ReviewedBy
		l.ReviewedBy = &reviewer
	}
	at := d.At.UTC()
	l.ReviewedAt = &at

	if l.Status == model.LeaveStatusApproved && !l.BalanceDeducted {
		if err := q.AdjustLeaveBalance(ctx, l.StudentID, -l.TotalDays); err != nil {
			return fmt.Errorf("deduct balance: %w", err)
		}
		l.BalanceDeducted = true
	}
	if err := q.SaveLeave(ctx, l); err != nil {
		return fmt.Errorf("save leave: %w", err)
	}
	return nil
}

// Announce reports a committed approved or rejected decision. Other
// statuses are ignored.
func Announce(ctx context.Context, pub events.Publisher, m *metrics.Metrics, l *model.Leave, source string) {
	if l.Status != model.LeaveStatusApproved && l.Status != model.LeaveStatusRejected {
		return
	}
	slog.Info("leave decided", "leave_id", l.ID, "student_id", l.StudentID, "status", l.Status, "source", source)
	m.Decision(string(l.Status), source)
	at := l.UpdatedAt
	if l.ReviewedAt != nil {
		at = *l.ReviewedAt
	}
	events.Emit(ctx, pub, model.LeaveDecidedEvent{
		LeaveID:   l.ID,
		StudentID: l.StudentID,
		Status:    l.Status,
		Source:    source,
		At:        at,
	})
}
