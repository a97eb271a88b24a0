// Package assessment stores the tests assigned to leave requests.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Service implements test authoring and retrieval.
type Service struct {
	store *store.Store
	Now   func() time.Time
}

// New creates an assessment service.
func New(s *store.Store) *Service {
	return &Service{store: s, Now: time.Now}
}

// Draft is the content of a new test. Zero PassMarks and Duration select
// the defaults.
type Draft struct {
	Title           string
	Description     string
	MCQQuestions    []model.MCQQuestion
	CodingQuestions []model.CodingQuestion
	PassMarks       int
	Duration        int
}

// Patch changes selected fields of a test. Nil fields are left alone.
type Patch struct {
	Title           *string
	Description     *string
	MCQQuestions    []model.MCQQuestion
	CodingQuestions []model.CodingQuestion
	PassMarks       *int
	Duration        *int
	IsActive        *bool
}

func validateQuestions(mcq []model.MCQQuestion, coding []model.CodingQuestion) error {
	if len(mcq)+len(coding) == 0 {
		return apperr.Validation("a test needs at least one question")
	}
	for i, q := range mcq {
		if strings.TrimSpace(q.Question) == "" {
			return apperr.Validation("MCQ question %d has no text", i+1)
		}
		if len(q.Options) < 2 {
			return apperr.Validation("MCQ question %d needs at least 2 options", i+1)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o) == "" {
				return apperr.Validation("MCQ question %d option %d is empty", i+1, j+1)
			}
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return apperr.Validation("MCQ question %d correct answer %d is out of range", i+1, q.CorrectAnswer)
		}
		if q.Marks < 1 {
			return apperr.Validation("MCQ question %d marks must be at least 1", i+1)
		}
	}
	for i, q := range coding {
		if strings.TrimSpace(q.Question) == "" {
			return apperr.Validation("coding question %d has no text", i+1)
		}
		if strings.TrimSpace(q.ExpectedOutput) == "" {
			return apperr.Validation("coding question %d has no expected output", i+1)
		}
		if q.Marks < 1 {
			return apperr.Validation("coding question %d marks must be at least 1", i+1)
		}
	}
	return nil
}

func checkPassMarks(t *model.Test) error {
	if t.PassMarks < 0 {
		return apperr.Validation("pass marks cannot be negative")
	}
	if t.PassMarks > t.TotalMarks {
		return apperr.Validation("pass marks (%d) cannot exceed total marks (%d)", t.PassMarks, t.TotalMarks)
	}
	return nil
}

// Build validates d and returns the test it describes for leaveID.
func Build(leaveID, createdBy string, d Draft) (*model.Test, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, apperr.Validation("test title is required")
	}
	if err := validateQuestions(d.MCQQuestions, d.CodingQuestions); err != nil {
		return nil, err
	}
	if d.Duration < 0 {
		return nil, apperr.Validation("duration cannot be negative")
	}
	t := &model.Test{
		LeaveID:         leaveID,
		CreatedBy:       createdBy,
		Title:           title,
		Description:     strings.TrimSpace(d.Description),
		MCQQuestions:    d.MCQQuestions,
		CodingQuestions: d.CodingQuestions,
		PassMarks:       d.PassMarks,
		Duration:        d.Duration,
		IsActive:        true,
	}
	if t.MCQQuestions == nil {
		t.MCQQuestions = []model.MCQQuestion{}
	}
	if t.CodingQuestions == nil {
		t.CodingQuestions = []model.CodingQuestion{}
	}
	t.TotalMarks = t.SumMarks()
	if t.PassMarks == 0 {
		t.PassMarks = model.DefaultPassMarks(t.TotalMarks)
	}
	if t.Duration == 0 {
		t.Duration = model.DefaultTestDuration
	}
	if err := checkPassMarks(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Create assigns a new test to a leave and moves the leave to test_assigned.
func (s *Service) Create(ctx context.Context, admin *model.User, leaveID string, d Draft) (*model.Test, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	t, err := Build(leaveID, admin.ID, d)
	if err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		l, err := q.GetLeave(ctx, leaveID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("leave request not found")
		}
		if err != nil {
			return err
		}
		if err := q.CreateTest(ctx, t); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("test already exists for this leave request")
			}
			return fmt.Errorf("create test: %w", err)
		}
		reviewer := admin.ID
		at := s.Now().UTC()
		l.Status = model.LeaveStatusTestAssigned
		l.ReviewedBy = &reviewer
		l.ReviewedAt = &at
		return q.SaveLeave(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("test created", "test_id", t.ID, "leave_id", leaveID, "questions", t.QuestionCount(), "total_marks", t.TotalMarks, "pass_marks", t.PassMarks)
	return t, nil
}

// Loaded is a test together with its leave, as seen by one caller.
type Loaded struct {
	Test  *model.Test
	Leave *model.Leave
	// Submitted reports whether the leave's student has a result for the test.
	Submitted bool
}

// Redacted reports whether answer keys must be hidden from caller.
func (l *Loaded) Redacted(caller *model.User) bool {
	return !caller.IsAdmin() && !l.Submitted
}

// Payload returns the test in the shape caller may see.
func (l *Loaded) Payload(caller *model.User) any {
	if l.Redacted(caller) {
		return l.Test.View()
	}
	return l.Test
}

func (s *Service) loaded(ctx context.Context, caller *model.User, t *model.Test) (*Loaded, error) {
	l, err := s.store.GetLeave(ctx, t.LeaveID)
	if err != nil {
		return nil, fmt.Errorf("get leave of test %s: %w", t.ID, err)
	}
	if !caller.IsAdmin() && l.StudentID != caller.ID {
		return nil, apperr.Forbidden("not authorized to access this test")
	}
	_, err = s.store.GetResultForStudent(ctx, t.ID, l.StudentID)
	switch {
	case err == nil:
		return &Loaded{Test: t, Leave: l, Submitted: true}, nil
	case errors.Is(err, store.ErrNotFound):
		return &Loaded{Test: t, Leave: l}, nil
	default:
		return nil, fmt.Errorf("get result: %w", err)
	}
}

// Get returns a test by ID. Students may only read tests on their own leaves.
func (s *Service) Get(ctx context.Context, caller *model.User, id string) (*Loaded, error) {
	if err := identity.Authorize(caller); err != nil {
		return nil, err
	}
	t, err := s.store.GetTest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("test not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return s.loaded(ctx, caller, t)
}

// GetByLeave returns the test bound to a leave.
func (s *Service) GetByLeave(ctx context.Context, caller *model.User, leaveID string) (*Loaded, error) {
	if err := identity.Authorize(caller); err != nil {
		return nil, err
	}
	t, err := s.store.GetTestByLeave(ctx, leaveID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("no test found for this leave request")
	}
	if err != nil {
		return nil, fmt.Errorf("get test by leave: %w", err)
	}
	return s.loaded(ctx, caller, t)
}

// Update applies p to a test. Totals are recomputed when questions change;
// existing pass marks are kept unless p sets them.
func (s *Service) Update(ctx context.Context, admin *model.User, id string, p Patch) (*model.Test, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	t, err := s.store.GetTest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("test not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, apperr.Validation("test title is required")
		}
		t.Title = title
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.MCQQuestions != nil {
		t.MCQQuestions = p.MCQQuestions
	}
	if p.CodingQuestions != nil {
		t.CodingQuestions = p.CodingQuestions
	}
	if err := validateQuestions(t.MCQQuestions, t.CodingQuestions); err != nil {
		return nil, err
	}
	t.TotalMarks = t.SumMarks()
	if p.PassMarks != nil {
		t.PassMarks = *p.PassMarks
	}
	if err := checkPassMarks(t); err != nil {
		return nil, err
	}
	if p.Duration != nil {
		if *p.Duration < 1 {
			return nil, apperr.Validation("duration must be positive")
		}
		t.Duration = *p.Duration
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}

	if err := s.store.UpdateTest(ctx, t); err != nil {
		return nil, fmt.Errorf("update test: %w", err)
	}
	slog.Info("test updated", "test_id", t.ID, "questions", t.QuestionCount(), "total_marks", t.TotalMarks, "pass_marks", t.PassMarks)
	return t, nil
}

// Delete removes a test with its results. A leave still waiting on the test
// returns to pending.
func (s *Service) Delete(ctx context.Context, admin *model.User, id string) error {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTest(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("test not found")
		}
		if err != nil {
			return err
		}
		if err := q.DeleteTest(ctx, t.ID); err != nil {
			return fmt.Errorf("delete test: %w", err)
		}
		l, err := q.GetLeave(ctx, t.LeaveID)
		if err != nil {
			return fmt.Errorf("get leave: %w", err)
		}
		if l.Status != model.LeaveStatusTestAssigned {
			return nil
		}
		l.Status = model.LeaveStatusPending
		return q.SaveLeave(ctx, l)
	})
	if err != nil {
		return err
	}
	slog.Info("test deleted", "test_id", id, "admin_id", admin.ID)
	return nil
}

// ListAll returns every test for an admin.
func (s *Service) ListAll(ctx context.Context, admin *model.User) ([]model.Test, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListTests(ctx)
}

// ListMine returns the tests on the student's leaves with answer keys
// hidden for tests not yet submitted.
func (s *Service) ListMine(ctx context.Context, student *model.User) ([]any, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	tests, err := s.store.ListTestsByStudent(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	results, err := s.store.ListResultsByStudent(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		done[r.TestID] = true
	}
	out := make([]any, 0, len(tests))
	for i := range tests {
		if done[tests[i].ID] {
			out = append(out, tests[i])
		} else {
			out = append(out, tests[i].View())
		}
	}
	return out, nil
}
