// Package identity authenticates callers and checks their roles.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

// UserStore is the persistence the gate needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, role model.UserRole) ([]model.User, error)
	ToggleUserActive(ctx context.Context, id string) error
	CreateAuthSession(ctx context.Context, userID string, ttl time.Duration) (*model.AuthSession, error)
	GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error)
	DeleteAuthSession(ctx context.Context, id string) error
}

// Config configures token issuing.
type Config struct {
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

// Gate issues and verifies bearer tokens backed by revocable sessions.
type Gate struct {
	users  UserStore
	key    []byte
	issuer string
	ttl    time.Duration
}

// New creates a Gate. The signing key must not be empty.
func New(users UserStore, cfg Config) (*Gate, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("identity: signing key is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Gate{users: users, key: []byte(cfg.SigningKey), issuer: cfg.Issuer, ttl: cfg.TokenTTL}, nil
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string      `json:"access_token"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        *model.User `json:"user"`
}

// Login checks the password and opens a session.
func (g *Gate) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := g.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || !user.Active {
		return nil, apperr.Unauthenticated("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthenticated("invalid credentials")
	}

	sess, err := g.users.CreateAuthSession(ctx, user.ID, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("create auth session: %w", err)
	}
	tok, err := issue(user.ID, string(user.Role), sess.ID, g.issuer, g.key, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	slog.Info("user logged in", "user_id", user.ID, "role", user.Role)
	return &Token{AccessToken: tok, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

// Authenticate resolves a bearer token to an active user and its session id.
func (g *Gate) Authenticate(ctx context.Context, token string) (*model.User, string, error) {
	if token == "" {
		return nil, "", apperr.Unauthenticated("missing bearer token")
	}
	claims, err := parse(token, g.key, g.issuer)
	if err != nil {
		slog.Debug("rejected token", "error", err)
		return nil, "", apperr.Unauthenticated("invalid token")
	}
	sess, err := g.users.GetAuthSession(ctx, claims.ID)
	if err != nil {
		return nil, "", fmt.Errorf("get auth session: %w", err)
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, "", apperr.Unauthenticated("session expired")
	}
	user, err := g.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("get user: %w", err)
	}
	if user == nil || !user.Active {
		return nil, "", apperr.Unauthenticated("account is inactive")
	}
	return user, sess.ID, nil
}

// Logout revokes the session.
func (g *Gate) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return g.users.DeleteAuthSession(ctx, sessionID)
}

// Authorize checks that u holds one of the required roles. No roles means
// any authenticated user.
func Authorize(u *model.User, required ...model.UserRole) error {
	if u == nil {
		return apperr.Unauthenticated("authentication required")
	}
	if len(required) == 0 {
		return nil
	}
	for _, r := range required {
		if u.Role == r {
			return nil
		}
	}
	return apperr.Forbidden("role %s is not allowed to perform this action", u.Role)
}

// NewUser describes an account to create.
type NewUser struct {
	Username     string
	DisplayName  string
	Password     string
	Role         model.UserRole
	LeaveBalance *int
}

// CreateUser hashes the password and stores a new active account.
func (g *Gate) CreateUser(ctx context.Context, nu NewUser) (*model.User, error) {
	return CreateUser(ctx, g.users, nu)
}

// CreateUser stores a new active account in users.
func CreateUser(ctx context.Context, users UserStore, nu NewUser) (*model.User, error) {
	nu.Username = strings.TrimSpace(nu.Username)
	if nu.Username == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(nu.Password) < 6 {
		return nil, apperr.Validation("password must be at least 6 characters")
	}
	if nu.Role == "" {
		nu.Role = model.UserRoleStudent
	}
	if !nu.Role.Valid() {
		return nil, apperr.Validation("invalid role %q", nu.Role)
	}
	balance := model.DefaultLeaveBalance
	if nu.LeaveBalance != nil {
		if *nu.LeaveBalance < 0 {
			return nil, apperr.Validation("leave balance cannot be negative")
		}
		balance = *nu.LeaveBalance
	}
	hash, err := HashPassword(nu.Password)
	if err != nil {
		return nil, err
	}
	if nu.DisplayName == "" {
		nu.DisplayName = nu.Username
	}
	u := &model.User{
		Username:     nu.Username,
		DisplayName:  nu.DisplayName,
		PasswordHash: hash,
		Role:         nu.Role,
		Active:       true,
		LeaveBalance: balance,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("username %q is already taken", nu.Username)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// ListUsers returns accounts, optionally filtered by role.
func (g *Gate) ListUsers(ctx context.Context, role model.UserRole) ([]model.User, error) {
	if role != "" && !role.Valid() {
		return nil, apperr.Validation("invalid role %q", role)
	}
	return g.users.ListUsers(ctx, role)
}

// ToggleActive flips an account's active flag. Admins cannot deactivate
// themselves.
func (g *Gate) ToggleActive(ctx context.Context, caller *model.User, id string) (*model.User, error) {
	if caller != nil && caller.ID == id {
		return nil, apperr.InvalidState("you cannot deactivate your own account")
	}
	if err := g.users.ToggleUserActive(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, fmt.Errorf("toggle user: %w", err)
	}
	u, err := g.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	slog.Info("toggled user", "user_id", id, "active", u.Active)
	return u, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
