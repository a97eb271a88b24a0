package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/leaveportal/internal/model"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tok, err := h.Gate.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LoggedIn", tok)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, http.StatusOK, "ProfileRetrieved", currentUser(r))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Gate.Logout(r.Context(), model.SessionIDFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user logged out", "user_id", currentUser(r).ID)
	writeOK(w, r, http.StatusOK, "LoggedOut", nil)
}
