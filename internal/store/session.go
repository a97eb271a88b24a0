package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/leaveportal/internal/model"
)

// CreateAuthSession creates a new auth session for a user that expires after ttl.
func (q *Queries) CreateAuthSession(ctx context.Context, userID string, ttl time.Duration) (*model.AuthSession, error) {
	now := time.Now().UTC()
	sess := &model.AuthSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetAuthSession returns the auth session with the given id, or nil if not found/expired.
func (q *Queries) GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := q.q.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = q.DeleteAuthSession(ctx, id)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session.
func (q *Queries) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, id)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions.
func (q *Queries) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
