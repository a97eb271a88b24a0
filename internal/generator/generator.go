// Package generator builds tests automatically from a pluggable question
// source.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/assessment"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/llm/prompts"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// MaxQuestions bounds a single generation request.
const MaxQuestions = 50

// Request describes a test to generate.
type Request struct {
	LeaveID           string
	Subject           string
	Difficulty        model.Difficulty
	NumberOfQuestions int
	TotalMarks        int
	// PassingPercentage defaults to model.DefaultPassPercentage when zero.
	PassingPercentage int
	Duration          int
	Title             string
	Description       string
}

// Generator turns source questions into persisted tests.
type Generator struct {
	source  QuestionSource
	catalog Catalog
	tests   *assessment.Service
	store   *store.Store
	metrics *metrics.Metrics
}

// New creates a generator.
func New(src QuestionSource, cat Catalog, tests *assessment.Service, s *store.Store, m *metrics.Metrics) *Generator {
	return &Generator{source: src, catalog: cat, tests: tests, store: s, metrics: m}
}

func (r *Request) validate() error {
	r.LeaveID = strings.TrimSpace(r.LeaveID)
	r.Subject = strings.TrimSpace(r.Subject)
	switch {
	case r.LeaveID == "":
		return apperr.Validation("leave ID is required")
	case r.Subject == "":
		return apperr.Validation("subject is required")
	case !r.Difficulty.Valid():
		return apperr.Validation("difficulty must be easy, medium or hard")
	case r.NumberOfQuestions < 1 || r.NumberOfQuestions > MaxQuestions:
		return apperr.Validation("number of questions must be between 1 and %d", MaxQuestions)
	case r.TotalMarks < r.NumberOfQuestions:
		return apperr.Validation("total marks must be at least the number of questions")
	case r.PassingPercentage < 0 || r.PassingPercentage > 100:
		return apperr.Validation("passing percentage must be between 0 and 100")
	case r.Duration < 0:
		return apperr.Validation("duration cannot be negative")
	}
	if r.PassingPercentage == 0 {
		r.PassingPercentage = model.DefaultPassPercentage
	}
	return nil
}

// checkShape verifies the source returned what was asked for.
func checkShape(qs []model.GeneratedQuestion, want int) error {
	if len(qs) != want {
		return apperr.Validation("expected %d questions but got %d", want, len(qs))
	}
	for i, q := range qs {
		if strings.TrimSpace(q.Question) == "" {
			return apperr.Validation("generated question %d has no text", i+1)
		}
		if len(q.Options) != prompts.OptionCount {
			return apperr.Validation("generated question %d has %d options, want %d", i+1, len(q.Options), prompts.OptionCount)
		}
		for _, o := range q.Options {
			if strings.TrimSpace(o) == "" {
				return apperr.Validation("generated question %d has an empty option", i+1)
			}
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return apperr.Validation("generated question %d has correct answer %d out of range", i+1, q.CorrectAnswer)
		}
	}
	return nil
}

// DistributeMarks splits total across n questions, adding the remainder to
// the first question.
func DistributeMarks(total, n int) []int {
	if n <= 0 {
		return nil
	}
	marks := make([]int, n)
	per := total / n
	for i := range marks {
		marks[i] = per
	}
	marks[0] += total % n
	return marks
}

// Generate fetches questions and creates a test for the requested leave.
func (g *Generator) Generate(ctx context.Context, admin *model.User, req Request) (*model.Test, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	// Fail fast before paying for a source call.
	if _, err := g.store.GetLeave(ctx, req.LeaveID); errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("leave request not found")
	} else if err != nil {
		return nil, fmt.Errorf("get leave: %w", err)
	}
	if _, err := g.store.GetTestByLeave(ctx, req.LeaveID); err == nil {
		return nil, apperr.Conflict("test already exists for this leave request")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get test by leave: %w", err)
	}

	start := time.Now()
	qs, err := g.source.Fetch(ctx, req.Subject, req.Difficulty, req.NumberOfQuestions)
	if err == nil {
		err = checkShape(qs, req.NumberOfQuestions)
	}
	g.metrics.GeneratedTest(g.source.Name(), err == nil, time.Since(start))
	if err != nil {
		slog.Warn("question source failed", "source", g.source.Name(), "subject", req.Subject,
			"difficulty", req.Difficulty, "error", err)
		if apperr.KindOf(err) == apperr.KindValidation {
			return nil, err
		}
		return nil, fmt.Errorf("fetch questions from %s: %w", g.source.Name(), err)
	}

	marks := DistributeMarks(req.TotalMarks, req.NumberOfQuestions)
	mcq := make([]model.MCQQuestion, len(qs))
	for i, q := range qs {
		mcq[i] = model.MCQQuestion{
			Question:      strings.TrimSpace(q.Question),
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Marks:         marks[i],
		}
	}

	title := req.Title
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("%s - %s Assessment", req.Subject, req.Difficulty)
	}
	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Generated test for %s. Complete all questions to process your leave request.", req.Subject)
	}

	t, err := g.tests.Create(ctx, admin, req.LeaveID, assessment.Draft{
		Title:        title,
		Description:  description,
		MCQQuestions: mcq,
		PassMarks:    model.PassMarksFor(req.TotalMarks, req.PassingPercentage),
		Duration:     req.Duration,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("test generated", "test_id", t.ID, "leave_id", req.LeaveID, "source", g.source.Name(),
		"subject", req.Subject, "difficulty", req.Difficulty, "questions", t.QuestionCount())
	return t, nil
}

// Subjects lists the subjects available in the catalog.
func (g *Generator) Subjects(ctx context.Context, admin *model.User) ([]model.SubjectInfo, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	return g.catalog.Subjects(ctx)
}

// QuestionCount counts catalog questions for subject. An empty difficulty
// counts every difficulty.
func (g *Generator) QuestionCount(ctx context.Context, admin *model.User, subject string, difficulty model.Difficulty) (int, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return 0, err
	}
	if strings.TrimSpace(subject) == "" {
		return 0, apperr.Validation("subject is required")
	}
	if difficulty != "" && !difficulty.Valid() {
		return 0, apperr.Validation("difficulty must be easy, medium or hard")
	}
	return g.catalog.Count(ctx, strings.TrimSpace(subject), difficulty)
}
