package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// Result returns the result recorded for a test. Students only see results
// for tests on their own leaves.
func (e *Engine) Result(ctx context.Context, caller *model.User, testID string) (*model.TestResult, error) {
	if err := identity.Authorize(caller); err != nil {
		return nil, err
	}
	t, err := e.store.GetTest(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("test not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	l, err := e.store.GetLeave(ctx, t.LeaveID)
	if err != nil {
		return nil, fmt.Errorf("get leave: %w", err)
	}
	if !caller.IsAdmin() && l.StudentID != caller.ID {
		return nil, apperr.Forbidden("not authorized to access this test result")
	}
	r, err := e.store.GetResultForStudent(ctx, t.ID, l.StudentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("test result not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// MyResults lists the calling student's results.
func (e *Engine) MyResults(ctx context.Context, student *model.User) ([]model.TestResult, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	return e.store.ListResultsByStudent(ctx, student.ID)
}

// AllResults lists every result for an admin.
func (e *Engine) AllResults(ctx context.Context, admin *model.User) ([]model.TestResult, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	return e.store.ListResults(ctx)
}

// StudentResults is a student's results with aggregate statistics.
type StudentResults struct {
	Results    []model.TestResult `json:"results"`
	Statistics model.ResultStats  `json:"statistics"`
}

// ResultsByStudent lists one student's results for an admin.
func (e *Engine) ResultsByStudent(ctx context.Context, admin *model.User, studentID string) (*StudentResults, error) {
	if err := identity.Authorize(admin, model.UserRoleAdmin); err != nil {
		return nil, err
	}
	results, err := e.store.ListResultsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return &StudentResults{Results: results, Statistics: Summarize(results)}, nil
}

// Summarize aggregates results into pass and fail counts and the rounded
// average percentage.
func Summarize(results []model.TestResult) model.ResultStats {
	st := model.ResultStats{TotalTests: len(results)}
	sum := 0
	for _, r := range results {
		if r.Passed {
			st.PassedTests++
		}
		sum += r.Percentage
	}
	st.FailedTests = st.TotalTests - st.PassedTests
	if st.TotalTests > 0 {
		st.AveragePercentage = int(math.Round(float64(sum) / float64(st.TotalTests)))
	}
	return st
}

// Statistics returns the calling student's dashboard summary.
func (e *Engine) Statistics(ctx context.Context, student *model.User) (*model.StudentStatistics, error) {
	if err := identity.Authorize(student, model.UserRoleStudent); err != nil {
		return nil, err
	}
	tests, err := e.store.ListTestsByStudent(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	results, err := e.store.ListResultsByStudent(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	st := StatisticsFor(len(tests), results)
	return &st, nil
}

// StatisticsFor computes student statistics from the number of assigned
// tests and the submitted results.
func StatisticsFor(assigned int, results []model.TestResult) model.StudentStatistics {
	sum := Summarize(results)
	st := model.StudentStatistics{
		TotalTests:     assigned,
		AssignedTests:  assigned,
		SubmittedTests: sum.TotalTests,
		PendingTests:   max(assigned-sum.TotalTests, 0),
		PassedTests:    sum.PassedTests,
		FailedTests:    sum.FailedTests,
	}
	if st.SubmittedTests > 0 {
		total := 0
		for _, r := range results {
			total += r.Percentage
		}
		avg := float64(total) / float64(st.SubmittedTests)
		st.AverageScore = math.Round(avg*100) / 100
		st.PassRate = int(math.Round(float64(st.PassedTests) / float64(st.SubmittedTests) * 100))
	}
	if assigned > 0 {
		st.CompletionRate = int(math.Round(float64(st.SubmittedTests) / float64(assigned) * 100))
	}
	return st
}
