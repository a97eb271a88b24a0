package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/leaveportal/internal/model"
)

const resultColumns = `id, test_id, student_id, leave_id, mcq_answers, coding_answers, mcq_score, coding_score,
	total_score, max_score, percentage, passed, pass_marks, submitted_at, time_taken, tab_switch_count,
	feedback, updated_at`

func scanResult(r rowScanner) (*model.TestResult, error) {
	var res model.TestResult
	var mcq, coding string
	err := r.Scan(&res.ID, &res.TestID, &res.StudentID, &res.LeaveID, &mcq, &coding, &res.MCQScore, &res.CodingScore,
		&res.TotalScore, &res.MaxScore, &res.Percentage, &res.Passed, &res.PassMarks, &res.SubmittedAt,
		&res.TimeTaken, &res.TabSwitchCount, &res.Feedback, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(mcq, &res.MCQAnswers); err != nil {
		return nil, fmt.Errorf("decode mcq answers of result %s: %w", res.ID, err)
	}
	if err := decodeJSON(coding, &res.CodingAnswers); err != nil {
		return nil, fmt.Errorf("decode coding answers of result %s: %w", res.ID, err)
	}
	return &res, nil
}

func encodeAnswers(r *model.TestResult) (mcq, coding string, err error) {
	if r.MCQAnswers == nil {
		r.MCQAnswers = []model.MCQAnswer{}
	}
	if r.CodingAnswers == nil {
		r.CodingAnswers = []model.CodingAnswer{}
	}
	if mcq, err = encodeJSON(r.MCQAnswers); err != nil {
		return "", "", err
	}
	if coding, err = encodeJSON(r.CodingAnswers); err != nil {
		return "", "", err
	}
	return mcq, coding, nil
}

// CreateResult inserts a result. A second result for the same (test,
// student) pair fails with ErrDuplicate.
func (q *Queries) CreateResult(ctx context.Context, r *model.TestResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	mcq, coding, err := encodeAnswers(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = now
	}
	r.UpdatedAt = now
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO test_results (`+resultColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TestID, r.StudentID, r.LeaveID, mcq, coding, r.MCQScore, r.CodingScore,
		r.TotalScore, r.MaxScore, r.Percentage, r.Passed, r.PassMarks, r.SubmittedAt.UTC(),
		r.TimeTaken, r.TabSwitchCount, r.Feedback, r.UpdatedAt,
	)
	return mapWriteErr(err)
}

// GetResult returns a result by ID.
func (q *Queries) GetResult(ctx context.Context, id string) (*model.TestResult, error) {
	r, err := scanResult(q.q.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM test_results WHERE id = ?`, id))
	return r, mapRowErr(err)
}

// GetResultForStudent returns the student's result for a test.
func (q *Queries) GetResultForStudent(ctx context.Context, testID, studentID string) (*model.TestResult, error) {
	r, err := scanResult(q.q.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE test_id = ? AND student_id = ?`, testID, studentID))
	return r, mapRowErr(err)
}

// UpdateResult overwrites the scored fields of a result in place.
func (q *Queries) UpdateResult(ctx context.Context, r *model.TestResult) error {
	mcq, coding, err := encodeAnswers(r)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := q.q.ExecContext(ctx,
		`UPDATE test_results SET mcq_answers = ?, coding_answers = ?, mcq_score = ?, coding_score = ?,
		 total_score = ?, max_score = ?, percentage = ?, passed = ?, pass_marks = ?, feedback = ?, updated_at = ?
		 WHERE id = ?`,
		mcq, coding, r.MCQScore, r.CodingScore, r.TotalScore, r.MaxScore, r.Percentage, r.Passed,
		r.PassMarks, r.Feedback, r.UpdatedAt,
		r.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteResult removes a result by ID.
func (q *Queries) DeleteResult(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM test_results WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListResults returns every result, newest first.
func (q *Queries) ListResults(ctx context.Context) ([]model.TestResult, error) {
	return q.queryResults(ctx, `SELECT `+resultColumns+` FROM test_results ORDER BY submitted_at DESC`)
}

// ListResultsByStudent returns a student's results, newest first.
func (q *Queries) ListResultsByStudent(ctx context.Context, studentID string) ([]model.TestResult, error) {
	return q.queryResults(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE student_id = ? ORDER BY submitted_at DESC`, studentID)
}

func (q *Queries) queryResults(ctx context.Context, query string, args ...any) ([]model.TestResult, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.TestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}
