package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/leaveportal/internal/model"
)

const testColumns = `t.id, t.leave_id, t.created_by, t.title, t.description, t.mcq_questions, t.coding_questions,
	t.total_marks, t.pass_marks, t.duration, t.is_active, t.created_at, t.updated_at`

func scanTest(r rowScanner) (*model.Test, error) {
	var t model.Test
	var mcq, coding string
	err := r.Scan(&t.ID, &t.LeaveID, &t.CreatedBy, &t.Title, &t.Description, &mcq, &coding,
		&t.TotalMarks, &t.PassMarks, &t.Duration, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(mcq, &t.MCQQuestions); err != nil {
		return nil, fmt.Errorf("decode mcq questions of test %s: %w", t.ID, err)
	}
	if err := decodeJSON(coding, &t.CodingQuestions); err != nil {
		return nil, fmt.Errorf("decode coding questions of test %s: %w", t.ID, err)
	}
	return &t, nil
}

func encodeQuestions(t *model.Test) (mcq, coding string, err error) {
	if t.MCQQuestions == nil {
		t.MCQQuestions = []model.MCQQuestion{}
	}
	if t.CodingQuestions == nil {
		t.CodingQuestions = []model.CodingQuestion{}
	}
	if mcq, err = encodeJSON(t.MCQQuestions); err != nil {
		return "", "", err
	}
	if coding, err = encodeJSON(t.CodingQuestions); err != nil {
		return "", "", err
	}
	return mcq, coding, nil
}

// CreateTest inserts a test. A second test for the same leave fails with
// ErrDuplicate.
func (q *Queries) CreateTest(ctx context.Context, t *model.Test) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	mcq, coding, err := encodeQuestions(t)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO tests (id, leave_id, created_by, title, description, mcq_questions, coding_questions,
		 total_marks, pass_marks, duration, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.LeaveID, t.CreatedBy, t.Title, t.Description, mcq, coding,
		t.TotalMarks, t.PassMarks, t.Duration, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	return mapWriteErr(err)
}

// GetTest returns a test by ID.
func (q *Queries) GetTest(ctx context.Context, id string) (*model.Test, error) {
	t, err := scanTest(q.q.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests t WHERE t.id = ?`, id))
	return t, mapRowErr(err)
}

// GetTestByLeave returns the test bound to a leave.
func (q *Queries) GetTestByLeave(ctx context.Context, leaveID string) (*model.Test, error) {
	t, err := scanTest(q.q.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests t WHERE t.leave_id = ?`, leaveID))
	return t, mapRowErr(err)
}

// UpdateTest writes the editable fields of t and bumps UpdatedAt.
func (q *Queries) UpdateTest(ctx context.Context, t *model.Test) error {
	mcq, coding, err := encodeQuestions(t)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	res, err := q.q.ExecContext(ctx,
		`UPDATE tests SET title = ?, description = ?, mcq_questions = ?, coding_questions = ?,
		 total_marks = ?, pass_marks = ?, duration = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		t.Title, t.Description, mcq, coding, t.TotalMarks, t.PassMarks, t.Duration, t.IsActive, t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteTest removes a test and, through the foreign key, its results.
func (q *Queries) DeleteTest(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListTests returns every test, newest first.
func (q *Queries) ListTests(ctx context.Context) ([]model.Test, error) {
	return q.queryTests(ctx, `SELECT `+testColumns+` FROM tests t ORDER BY t.created_at DESC`)
}

// ListTestsByStudent returns tests attached to the student's leaves.
func (q *Queries) ListTestsByStudent(ctx context.Context, studentID string) ([]model.Test, error) {
	return q.queryTests(ctx,
		`SELECT `+testColumns+` FROM tests t JOIN leaves l ON l.id = t.leave_id
		 WHERE l.student_id = ? ORDER BY t.created_at DESC`, studentID)
}

func (q *Queries) queryTests(ctx context.Context, query string, args ...any) ([]model.Test, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}
