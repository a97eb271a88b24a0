package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/model"
)

type createUserRequest struct {
	Username     string `json:"username" validate:"required,min=3,max=50"`
	DisplayName  string `json:"display_name" validate:"max=100"`
	Password     string `json:"password" validate:"required,min=6"`
	Role         string `json:"role" validate:"omitempty,oneof=student admin"`
	LeaveBalance *int   `json:"leave_balance" validate:"omitempty,min=0"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Gate.ListUsers(r.Context(), model.UserRole(r.URL.Query().Get("role")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "UsersRetrieved", users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Gate.CreateUser(r.Context(), identity.NewUser{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Password:     req.Password,
		Role:         model.UserRole(req.Role),
		LeaveBalance: req.LeaveBalance,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("created user", "user_id", u.ID, "username", u.Username, "role", u.Role,
		"by", currentUser(r).ID)
	writeOK(w, r, http.StatusCreated, "UserCreated", u)
}

func (h *Handler) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Gate.ToggleActive(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "UserToggled", u)
}
