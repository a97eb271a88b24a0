package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/leaveportal/internal/model"
)

const leaveColumns = `id, student_id, start_date, end_date, reason, leave_type, status, total_days,
	admin_remarks, reviewed_by, reviewed_at, retest_requested, retest_approved, retest_used,
	reevaluation_used, balance_deducted, created_at, updated_at`

func scanLeave(r rowScanner) (*model.Leave, error) {
	var l model.Leave
	err := r.Scan(&l.ID, &l.StudentID, &l.StartDate, &l.EndDate, &l.Reason, &l.LeaveType, &l.Status, &l.TotalDays,
		&l.AdminRemarks, &l.ReviewedBy, &l.ReviewedAt, &l.RetestRequested, &l.RetestApproved, &l.RetestUsed,
		&l.ReevaluationUsed, &l.BalanceDeducted, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLeave inserts a leave request, assigning id and timestamps.
func (q *Queries) CreateLeave(ctx context.Context, l *model.Leave) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO leaves (`+leaveColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.StudentID, l.StartDate.UTC(), l.EndDate.UTC(), l.Reason, l.LeaveType, l.Status, l.TotalDays,
		l.AdminRemarks, l.ReviewedBy, l.ReviewedAt, l.RetestRequested, l.RetestApproved, l.RetestUsed,
		l.ReevaluationUsed, l.BalanceDeducted, l.CreatedAt, l.UpdatedAt,
	)
	return mapWriteErr(err)
}

// GetLeave returns a leave by ID.
func (q *Queries) GetLeave(ctx context.Context, id string) (*model.Leave, error) {
	l, err := scanLeave(q.q.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leaves WHERE id = ?`, id))
	return l, mapRowErr(err)
}

// SaveLeave writes every mutable column of l and bumps UpdatedAt.
func (q *Queries) SaveLeave(ctx context.Context, l *model.Leave) error {
	l.UpdatedAt = time.Now().UTC()
	res, err := q.q.ExecContext(ctx,
		`UPDATE leaves SET start_date = ?, end_date = ?, reason = ?, leave_type = ?, status = ?, total_days = ?,
		 admin_remarks = ?, reviewed_by = ?, reviewed_at = ?, retest_requested = ?, retest_approved = ?,
		 retest_used = ?, reevaluation_used = ?, balance_deducted = ?, updated_at = ?
		 WHERE id = ?`,
		l.StartDate.UTC(), l.EndDate.UTC(), l.Reason, l.LeaveType, l.Status, l.TotalDays,
		l.AdminRemarks, l.ReviewedBy, l.ReviewedAt, l.RetestRequested, l.RetestApproved,
		l.RetestUsed, l.ReevaluationUsed, l.BalanceDeducted, l.UpdatedAt,
		l.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteLeave removes a leave by ID.
func (q *Queries) DeleteLeave(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM leaves WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListLeavesByStudent returns a student's leaves, newest first.
func (q *Queries) ListLeavesByStudent(ctx context.Context, studentID string) ([]model.Leave, error) {
	return q.queryLeaves(ctx,
		`SELECT `+leaveColumns+` FROM leaves WHERE student_id = ? ORDER BY created_at DESC`, studentID)
}

// ListLeaves returns leaves matching f, newest first. A date range selects
// leaves lying entirely within [From, To].
func (q *Queries) ListLeaves(ctx context.Context, f model.LeaveFilter) ([]model.Leave, error) {
	query := `SELECT ` + leaveColumns + ` FROM leaves WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.From != nil {
		query += ` AND start_date >= ?`
		args = append(args, model.Day(*f.From))
	}
	if f.To != nil {
		query += ` AND end_date <= ?`
		args = append(args, model.Day(*f.To))
	}
	query += ` ORDER BY created_at DESC`
	return q.queryLeaves(ctx, query, args...)
}

func (q *Queries) queryLeaves(ctx context.Context, query string, args ...any) ([]model.Leave, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leaves []model.Leave
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, *l)
	}
	return leaves, rows.Err()
}
