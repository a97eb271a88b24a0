// Package evaluation scores test submissions and decides the owning leave.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/events"
	"github.com/pavelanni/leaveportal/internal/i18n"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/leave"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Engine runs submissions and answers result queries.
type Engine struct {
	store   *store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	Now     func() time.Time
}

// New creates an evaluation engine.
func New(s *store.Store, pub events.Publisher, m *metrics.Metrics) *Engine {
	return &Engine{store: s, events: pub, metrics: m, Now: time.Now}
}

// Outcome is the result of a submission.
type Outcome struct {
	Result      *model.TestResult `json:"test_result"`
	LeaveStatus model.LeaveStatus `json:"leave_status"`
	Message     string            `json:"-"`
}

// Remarks returns the automatic decision remarks for a test outcome.
func Remarks(ctx context.Context, passed bool) string {
	if passed {
		return i18n.T(ctx, "RemarksTestPassed")
	}
	return i18n.T(ctx, "RemarksTestFailed")
}

// Submit scores a student's answers, stores the result and decides the
// leave in one transaction.
func (e *Engine) Submit(ctx context.Context, student *model.User, testID string, sub model.Submission) (*Outcome, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	if sub.TimeTaken < 0 || sub.TabSwitchCount < 0 {
		return nil, apperr.Validation("time taken and tab switch count cannot be negative")
	}

	var (
		result *model.TestResult
		l      *model.Leave
	)
	err := e.store.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTest(ctx, testID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("test not found")
		}
		if err != nil {
			return err
		}
		l, err = q.GetLeave(ctx, t.LeaveID)
		if err != nil {
			return fmt.Errorf("get leave: %w", err)
		}
		if l.StudentID != student.ID {
			return apperr.Forbidden("this test is not assigned to you")
		}
		if _, err := q.GetResultForStudent(ctx, t.ID, student.ID); err == nil {
			return apperr.Conflict("test already submitted, multiple submissions are not allowed")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if !t.IsActive {
			return apperr.InvalidState("test is not active")
		}

		result = Score(ctx, t, student.ID, sub)
		result.SubmittedAt = e.Now().UTC()
		if err := q.CreateResult(ctx, result); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("test already submitted, multiple submissions are not allowed")
			}
			return fmt.Errorf("create result: %w", err)
		}
		return leave.Decide(ctx, q, l, Decision(ctx, result.Passed, e.Now()))
	})
	if err != nil {
		return nil, err
	}

	slog.Info("test submitted", "test_id", testID, "student_id", student.ID,
		"score", result.TotalScore, "max", result.MaxScore, "passed", result.Passed)
	e.metrics.Submission(result.Passed)
	leave.Announce(ctx, e.events, e.metrics, l, model.DecisionSourceEvaluation)

	msg := i18n.T(ctx, "SubmitFailed")
	if result.Passed {
		msg = i18n.T(ctx, "SubmitPassed")
	}
	return &Outcome{Result: result, LeaveStatus: l.Status, Message: msg}, nil
}

// Decision returns the automatic leave decision for a test outcome.
func Decision(ctx context.Context, passed bool, at time.Time) model.LeaveDecision {
	d := model.LeaveDecision{Status: model.LeaveStatusRejected, Remarks: Remarks(ctx, passed), At: at}
	if passed {
		d.Status = model.LeaveStatusApproved
	}
	return d
}
