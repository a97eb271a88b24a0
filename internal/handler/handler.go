// Package handler exposes the leave portal as a JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/assessment"
	"github.com/pavelanni/leaveportal/internal/evaluation"
	"github.com/pavelanni/leaveportal/internal/generator"
	appI18n "github.com/pavelanni/leaveportal/internal/i18n"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/leave"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/ratelimit"
	"github.com/pavelanni/leaveportal/internal/remediation"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the services the handlers call.
type Deps struct {
	Gate        *identity.Gate
	Leaves      *leave.Service
	Tests       *assessment.Service
	Engine      *evaluation.Engine
	Remediation *remediation.Controller
	Generator   *generator.Generator
	Metrics     *metrics.Metrics
	Limiter     ratelimit.Limiter
	DB          Pinger
	Lang        string
	CORSOrigins []string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	Deps
	validate *validator.Validate
}

// New creates a new Handler. A nil Limiter disables rate limiting.
func New(d Deps) *Handler {
	if d.Lang == "" {
		d.Lang = "en"
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Deps: d, validate: v}
}

// Router builds the complete HTTP handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Accept-Language"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware(h.Lang))
	r.Use(h.Metrics.Middleware)

	r.Get("/health", h.handleHealth)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}
	r.Route("/api", h.Routes)
	return r
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.With(h.limit("login")).Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/auth/me", h.handleMe)
		r.Post("/auth/logout", h.handleLogout)

		r.Route("/admin/users", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/", h.handleListUsers)
			r.Post("/", h.handleCreateUser)
			r.Post("/{id}/toggle", h.handleToggleUser)
		})

		r.Route("/leaves", func(r chi.Router) {
			r.Post("/", h.handleApplyLeave)
			r.Get("/", h.handleListLeaves)
			r.Get("/mine", h.handleMyLeaves)
			r.Get("/{id}", h.handleGetLeave)
			r.Put("/{id}", h.handleUpdateLeave)
			r.Delete("/{id}", h.handleDeleteLeave)
			r.Put("/{id}/status", h.handleSetLeaveStatus)
			r.Post("/{id}/reject", h.handleRejectLeave)
			r.Post("/{id}/approve", h.handleApproveLeave)
		})

		r.Route("/tests", func(r chi.Router) {
			r.Post("/", h.handleCreateTest)
			r.With(h.limit("generate")).Post("/generate", h.handleGenerateTest)
			r.Get("/", h.handleListTests)
			r.Get("/mine", h.handleMyTests)
			r.Get("/subjects", h.handleSubjects)
			r.Get("/question-count", h.handleQuestionCount)
			r.Get("/leave/{leaveID}", h.handleTestByLeave)
			r.Get("/{id}", h.handleGetTest)
			r.Put("/{id}", h.handleUpdateTest)
			r.Delete("/{id}", h.handleDeleteTest)
			r.Post("/{id}/submit", h.handleSubmitTest)
			r.Get("/{id}/result", h.handleTestResult)
			r.Post("/{id}/reevaluate", h.handleReevaluate)
			r.Post("/{id}/retest/request", h.handleRequestRetest)
			r.Post("/{id}/retest/approve", h.handleApproveRetest)
		})

		r.Route("/results", func(r chi.Router) {
			r.Get("/", h.handleAllResults)
			r.Get("/mine", h.handleMyResults)
			r.Get("/statistics", h.handleStatistics)
			r.Get("/student/{studentID}", h.handleStudentResults)
			r.Delete("/{id}", h.handleDeleteResult)
		})
	})
}

func (h *Handler) corsOrigins() []string {
	if len(h.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return h.CORSOrigins
}

func (h *Handler) limit(scope string) func(http.Handler) http.Handler {
	if h.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(h.Limiter, scope, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, envelope{
			Error:   kindTooManyRequests,
			Message: appI18n.T(r.Context(), "TooManyRequests"),
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			slog.Error("health check failed", "error", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// requireAuth resolves the bearer token to a user and session.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, sessionID, err := h.Gate.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithSessionID(ctx, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := identity.Authorize(model.UserFromContext(r.Context()), allowed...); err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

const kindTooManyRequests apperr.Kind = "too_many_requests"

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    any         `json:"data,omitempty"`
	Error   apperr.Kind `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeOK sends a success envelope with a localized message.
func writeOK(w http.ResponseWriter, r *http.Request, status int, msgID string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: appI18n.T(r.Context(), msgID), Data: data})
}

// writeError maps err to its status code. Internal errors are logged and
// never shown to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	var ae *apperr.Error
	msg := appI18n.T(r.Context(), "InternalError")
	if kind != apperr.KindInternal && errors.As(err, &ae) {
		msg = ae.Message
	} else {
		kind = apperr.KindInternal
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, apperr.HTTPStatus(kind), envelope{Error: kind, Message: msg})
}

// decode reads a JSON body into dst and runs struct validation. An empty
// body leaves dst untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return apperr.Validation("invalid request: %v", err)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return apperr.Validation("%s is required", fe.Field())
	case "min":
		return apperr.Validation("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return apperr.Validation("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return apperr.Validation("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return apperr.Validation("%s is invalid", fe.Field())
	}
}

func currentUser(r *http.Request) *model.User {
	return model.UserFromContext(r.Context())
}
