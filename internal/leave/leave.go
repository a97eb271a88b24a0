// Package leave manages leave requests and their status decisions.
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/events"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Service implements the leave operations.
type Service struct {
	store   *store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	// Now returns the current time; tests replace it.
	Now func() time.Time
}

// New creates a leave service.
func New(s *store.Store, pub events.Publisher, m *metrics.Metrics) *Service {
	return &Service{store: s, events: pub, metrics: m, Now: time.Now}
}

// Input carries the student-editable fields of a leave request. Dates use
// model.DateLayout.
type Input struct {
	StartDate string
	EndDate   string
	Reason    string
	LeaveType model.LeaveType
}

type validInput struct {
	start, end time.Time
	reason     string
	leaveType  model.LeaveType
	days       int
}

func (s *Service) validate(in Input) (validInput, error) {
	var v validInput
	var err error
	if v.start, err = time.Parse(model.DateLayout, strings.TrimSpace(in.StartDate)); err != nil {
		return v, apperr.Validation("start date must be a date in %s format", model.DateLayout)
	}
	if v.end, err = time.Parse(model.DateLayout, strings.TrimSpace(in.EndDate)); err != nil {
		return v, apperr.Validation("end date must be a date in %s format", model.DateLayout)
	}
	if v.start.Before(model.Day(s.Now())) {
		return v, apperr.Validation("start date cannot be in the past")
	}
	if v.end.Before(v.start) {
		return v, apperr.Validation("end date must be after or equal to start date")
	}
	v.reason = strings.TrimSpace(in.Reason)
	if n := utf8.RuneCountInString(v.reason); n < model.ReasonMinLen || n > model.ReasonMaxLen {
		return v, apperr.Validation("reason must be between %d and %d characters", model.ReasonMinLen, model.ReasonMaxLen)
	}
	v.leaveType = in.LeaveType
	if v.leaveType == "" {
		v.leaveType = model.LeaveTypePersonal
	}
	if !v.leaveType.Valid() {
		return v, apperr.Validation("invalid leave type %q", in.LeaveType)
	}
	v.days = model.InclusiveDays(v.start, v.end)
	return v, nil
}

func (s *Service) checkBalance(ctx context.Context, studentID string, days int) error {
	u, err := s.store.GetUserByID(ctx, studentID)
	if err != nil {
		return fmt.Errorf("get student: %w", err)
	}
	if u == nil {
		return apperr.NotFound("student not found")
	}
	if u.LeaveBalance < days {
		return apperr.InsufficientBalance("Insufficient leave balance. You have %d days remaining.", u.LeaveBalance)
	}
	return nil
}

// Apply creates a pending leave request for the calling student.
func (s *Service) Apply(ctx context.Context, student *model.User, in Input) (*model.Leave, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	v, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkBalance(ctx, student.ID, v.days); err != nil {
		return nil, err
	}
	l := &model.Leave{
		StudentID: student.ID,
		StartDate: v.start,
		EndDate:   v.end,
		Reason:    v.reason,
		LeaveType: v.leaveType,
		Status:    model.LeaveStatusPending,
		TotalDays: v.days,
	}
	if err := s.store.CreateLeave(ctx, l); err != nil {
		return nil, fmt.Errorf("create leave: %w", err)
	}
	slog.Info("leave applied", "leave_id", l.ID, "student_id", student.ID, "days", l.TotalDays)
	return l, nil
}

// load fetches a leave and checks the caller may see it.
func (s *Service) load(ctx context.Context, caller *model.User, id string) (*model.Leave, error) {
	if err := identity.Authorize(caller); err != nil {
		return nil, err
	}
	l, err := s.store.GetLeave(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("leave request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get leave: %w", err)
	}
	if !caller.IsAdmin() && l.StudentID != caller.ID {
		return nil, apperr.Forbidden("not authorized to access this leave request")
	}
	return l, nil
}

// Get returns a leave visible to the caller.
func (s *Service) Get(ctx context.Context, caller *model.User, id string) (*model.Leave, error) {
	return s.load(ctx, caller, id)
}

// ListMine returns the calling student's leaves.
func (s *Service) ListMine(ctx context.Context, student *model.User) ([]model.Leave, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	return s.store.ListLeavesByStudent(ctx, student.ID)
}

// ListAll returns leaves matching f for an admin.
func (s *Service) ListAll(ctx context.Context, admin *model.User, f model.LeaveFilter) ([]model.Leave, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("invalid status %q", f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Validation("date range end must not precede its start")
	}
	return s.store.ListLeaves(ctx, f)
}

// ownPending loads a leave the student owns and may still change.
func (s *Service) ownPending(ctx context.Context, student *model.User, id string) (*model.Leave, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, student, id)
	if err != nil {
		return nil, err
	}
	if l.Status != model.LeaveStatusPending {
		return nil, apperr.InvalidState("only pending leave requests can be changed")
	}
	return l, nil
}

// UpdateOwn replaces the fields of the student's pending leave.
func (s *Service) UpdateOwn(ctx context.Context, student *model.User, id string, in Input) (*model.Leave, error) {
	l, err := s.ownPending(ctx, student, id)
	if err != nil {
		return nil, err
	}
	if in.LeaveType == "" {
		in.LeaveType = l.LeaveType
	}
	v, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkBalance(ctx, student.ID, v.days); err != nil {
		return nil, err
	}
	l.StartDate, l.EndDate = v.start, v.end
	l.Reason, l.LeaveType, l.TotalDays = v.reason, v.leaveType, v.days
	if err := s.store.SaveLeave(ctx, l); err != nil {
		return nil, fmt.Errorf("save leave: %w", err)
	}
	slog.Info("leave updated", "leave_id", l.ID, "days", l.TotalDays)
	return l, nil
}

// Delete removes the student's pending leave.
func (s *Service) Delete(ctx context.Context, student *model.User, id string) error {
	l, err := s.ownPending(ctx, student, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteLeave(ctx, l.ID); err != nil {
		return fmt.Errorf("delete leave: %w", err)
	}
	slog.Info("leave deleted", "leave_id", l.ID, "student_id", student.ID)
	return nil
}

// SetStatus records an admin's decision on a leave.
func (s *Service) SetStatus(ctx context.Context, admin *model.User, id string, status model.LeaveStatus, remarks string) (*model.Leave, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.Validation("invalid status %q", status)
	}
	remarks = strings.TrimSpace(remarks)
	if utf8.RuneCountInString(remarks) > model.RemarksMaxLen {
		return nil, apperr.Validation("remarks must be at most %d characters", model.RemarksMaxLen)
	}

	var l *model.Leave
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		l, err = q.GetLeave(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("leave request not found")
		}
		if err != nil {
			return err
		}
		return Decide(ctx, q, l, model.LeaveDecision{
			Status:     status,
			Remarks:    remarks,
			ReviewedBy: admin.ID,
			At:         s.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	slog.Info("leave status set", "leave_id", l.ID, "status", l.Status, "admin_id", admin.ID)
	Announce(ctx, s.events, s.metrics, l, model.DecisionSourceAdmin)
	return l, nil
}
