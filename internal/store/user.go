package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/leaveportal/internal/model"
)

const userColumns = `id, username, display_name, password_hash, role, active, leave_balance, created_at`

func scanUser(r rowScanner) (*model.User, error) {
	var u model.User
	if err := r.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.LeaveBalance, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user, assigning an id when empty.
func (q *Queries) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, u.LeaveBalance, u.CreatedAt,
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return mapWriteErr(err)
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return nil
}

// GetUserByUsername returns a user by username, or nil if absent.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil if absent.
func (q *Queries) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users, optionally only those with the given role.
func (q *Queries) ListUsers(ctx context.Context, role model.UserRole) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at, username`
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips the active flag on a user.
func (q *Queries) ToggleUserActive(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE users SET active = NOT active WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// AdjustLeaveBalance adds delta (usually negative) to the user's balance.
func (q *Queries) AdjustLeaveBalance(ctx context.Context, id string, delta int) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE users SET leave_balance = leave_balance + ? WHERE id = ?`, delta, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// UserCount returns the total number of users.
func (q *Queries) UserCount(ctx context.Context) (int, error) {
	var count int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
