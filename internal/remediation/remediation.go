// Package remediation handles the one-time reevaluation and retest paths
// and admin overrides of leave decisions.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/evaluation"
	"github.com/pavelanni/leaveportal/internal/events"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/leave"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Metric action labels.
const (
	ActionReevaluate    = "reevaluate"
	ActionRetestRequest = "retest_request"
	ActionRetestApprove = "retest_approve"
	ActionRetestConsume = "retest_consume"
	ActionResultDelete  = "result_delete"
	ActionOverride      = "override"
)

// Controller implements the remediation operations.
type Controller struct {
	store   *store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	Now     func() time.Time
}

// New creates a remediation controller.
func New(s *store.Store, pub events.Publisher, m *metrics.Metrics) *Controller {
	return &Controller{store: s, events: pub, metrics: m, Now: time.Now}
}

// target is a test with its leave and the student's result.
type target struct {
	test   *model.Test
	leave  *model.Leave
	result *model.TestResult
}

// load resolves testID inside a transaction and checks caller may act on
// it. Students must own the leave.
func load(ctx context.Context, q *store.Queries, caller *model.User, testID string) (*target, error) {
	t, err := q.GetTest(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("test not found")
	}
	if err != nil {
		return nil, err
	}
	l, err := q.GetLeave(ctx, t.LeaveID)
	if err != nil {
		return nil, fmt.Errorf("get leave: %w", err)
	}
	if !caller.IsAdmin() && l.StudentID != caller.ID {
		return nil, apperr.Forbidden("you can only act on your own test")
	}
	r, err := q.GetResultForStudent(ctx, t.ID, l.StudentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("test result not found")
	}
	if err != nil {
		return nil, err
	}
	return &target{test: t, leave: l, result: r}, nil
}

// Reevaluate rescores the result for testID against the test's current
// answer key and decides the leave again. It succeeds once per leave.
func (c *Controller) Reevaluate(ctx context.Context, caller *model.User, testID string) (*model.TestResult, error) {
	if err := identity.Authorize(caller); err != nil {
		return nil, err
	}
	var tg *target
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if tg, err = load(ctx, q, caller, testID); err != nil {
			return err
		}
		if tg.leave.ReevaluationUsed {
			return apperr.InvalidState("Reevaluation already used for this leave")
		}
		evaluation.Rescore(ctx, tg.test, tg.result)
		if err := q.UpdateResult(ctx, tg.result); err != nil {
			return fmt.Errorf("update result: %w", err)
		}
		tg.leave.ReevaluationUsed = true
		return leave.Decide(ctx, q, tg.leave, evaluation.Decision(ctx, tg.result.Passed, c.Now()))
	})
	if err != nil {
		return nil, err
	}
	slog.Info("result reevaluated", "test_id", testID, "result_id", tg.result.ID,
		"score", tg.result.TotalScore, "passed", tg.result.Passed, "by", caller.ID)
	c.metrics.Remediation(ActionReevaluate)
	leave.Announce(ctx, c.events, c.metrics, tg.leave, model.DecisionSourceReevaluation)
	return tg.result, nil
}

func retestBlocked(l *model.Leave) error {
	switch {
	case l.RetestUsed:
		return apperr.InvalidState("Retest already used for this leave")
	case l.RetestApproved:
		return apperr.InvalidState("Retest already approved")
	}
	return nil
}

// RequestRetest records the student's request for a retest.
func (c *Controller) RequestRetest(ctx context.Context, student *model.User, testID string) (*model.Leave, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	var tg *target
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if tg, err = load(ctx, q, student, testID); err != nil {
			return err
		}
		if err := retestBlocked(tg.leave); err != nil {
			return err
		}
		if tg.leave.RetestRequested {
			return apperr.InvalidState("Retest request is already pending admin approval")
		}
		tg.leave.RetestRequested = true
		return q.SaveLeave(ctx, tg.leave)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("retest requested", "test_id", testID, "leave_id", tg.leave.ID, "student_id", student.ID)
	c.metrics.Remediation(ActionRetestRequest)
	return tg.leave, nil
}

// ApproveRetest grants a pending retest request and reopens the test.
func (c *Controller) ApproveRetest(ctx context.Context, admin *model.User, testID string) (*model.Leave, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	var tg *target
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if tg, err = load(ctx, q, admin, testID); err != nil {
			return err
		}
		if err := retestBlocked(tg.leave); err != nil {
			return err
		}
		if !tg.leave.RetestRequested {
			return apperr.InvalidState("no retest request is pending for this leave")
		}
		reviewer := admin.ID
		at := c.Now().UTC()
		tg.leave.RetestApproved = true
		tg.leave.RetestRequested = false
		tg.leave.Status = model.LeaveStatusTestAssigned
		tg.leave.ReviewedBy = &reviewer
		tg.leave.ReviewedAt = &at
		return q.SaveLeave(ctx, tg.leave)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("retest approved", "test_id", testID, "leave_id", tg.leave.ID, "admin_id", admin.ID)
	c.metrics.Remediation(ActionRetestApprove)
	return tg.leave, nil
}

// DeleteResult removes a result. A student may delete their own result only
// to consume an approved retest; an admin may delete any result without
// touching the retest flags.
func (c *Controller) DeleteResult(ctx context.Context, caller *model.User, resultID string) error {
	if err := identity.Authorize(caller); err != nil {
		return err
	}
	var consumed bool
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		r, err := q.GetResult(ctx, resultID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("test result not found")
		}
		if err != nil {
			return err
		}
		if caller.IsAdmin() {
			return q.DeleteResult(ctx, r.ID)
		}

		if r.StudentID != caller.ID {
			return apperr.Forbidden("you can only delete your own test result")
		}
		l, err := q.GetLeave(ctx, r.LeaveID)
		if err != nil {
			return fmt.Errorf("get leave: %w", err)
		}
		if l.RetestUsed {
			return apperr.InvalidState("Retest already used for this leave")
		}
		if !l.RetestApproved {
			return apperr.InvalidState("Retest must be approved by admin before deleting result")
		}
		if err := q.DeleteResult(ctx, r.ID); err != nil {
			return fmt.Errorf("delete result: %w", err)
		}
		l.RetestUsed = true
		l.RetestApproved = false
		l.RetestRequested = false
		l.Status = model.LeaveStatusTestAssigned
		consumed = true
		return q.SaveLeave(ctx, l)
	})
	if err != nil {
		return err
	}
	slog.Info("test result deleted", "result_id", resultID, "by", caller.ID, "retest_consumed", consumed)
	if consumed {
		c.metrics.Remediation(ActionRetestConsume)
	} else {
		c.metrics.Remediation(ActionResultDelete)
	}
	return nil
}

// Reject force-rejects a leave regardless of any test outcome.
func (c *Controller) Reject(ctx context.Context, admin *model.User, leaveID, remarks string) (*model.Leave, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return nil, apperr.Validation("remarks are required when rejecting a leave")
	}
	return c.override(ctx, admin, leaveID, model.LeaveStatusRejected, remarks)
}

// Approve force-approves a leave regardless of any test outcome.
func (c *Controller) Approve(ctx context.Context, admin *model.User, leaveID, remarks string) (*model.Leave, error) {
	return c.override(ctx, admin, leaveID, model.LeaveStatusApproved, strings.TrimSpace(remarks))
}

func (c *Controller) override(ctx context.Context, admin *model.User, leaveID string, status model.LeaveStatus, remarks string) (*model.Leave, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(remarks) > model.RemarksMaxLen {
		return nil, apperr.Validation("remarks must be at most %d characters", model.RemarksMaxLen)
	}
	var l *model.Leave
	err := c.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		l, err = q.GetLeave(ctx, leaveID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("leave request not found")
		}
		if err != nil {
			return err
		}
		return leave.Decide(ctx, q, l, model.LeaveDecision{
			Status:     status,
			Remarks:    remarks,
			ReviewedBy: admin.ID,
			At:         c.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	slog.Info("leave overridden", "leave_id", l.ID, "status", l.Status, "admin_id", admin.ID)
	c.metrics.Remediation(ActionOverride)
	leave.Announce(ctx, c.events, c.metrics, l, model.DecisionSourceOverride)
	return l, nil
}
