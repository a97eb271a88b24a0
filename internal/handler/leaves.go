package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/leave"
	"github.com/pavelanni/leaveportal/internal/model"
)

type leaveRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	LeaveType string `json:"leave_type"`
}

func (req leaveRequest) input() leave.Input {
	return leave.Input{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Reason:    req.Reason,
		LeaveType: model.LeaveType(req.LeaveType),
	}
}

type statusRequest struct {
	Status  string `json:"status" validate:"required"`
	Remarks string `json:"remarks"`
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

func (h *Handler) handleApplyLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.Leaves.Apply(r.Context(), currentUser(r), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, "LeaveApplied", l)
}

func (h *Handler) handleListLeaves(w http.ResponseWriter, r *http.Request) {
	f, err := leaveFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	leaves, err := h.Leaves.ListAll(r.Context(), currentUser(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeavesRetrieved", leaves)
}

func leaveFilter(r *http.Request) (model.LeaveFilter, error) {
	q := r.URL.Query()
	f := model.LeaveFilter{Status: model.LeaveStatus(q.Get("status"))}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			return f, apperr.Validation("%s must be a date in %s format", name, model.DateLayout)
		}
		*dst = &t
	}
	return f, nil
}

func (h *Handler) handleMyLeaves(w http.ResponseWriter, r *http.Request) {
	leaves, err := h.Leaves.ListMine(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeavesRetrieved", leaves)
}

func (h *Handler) handleGetLeave(w http.ResponseWriter, r *http.Request) {
	l, err := h.Leaves.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeaveRetrieved", l)
}

func (h *Handler) handleUpdateLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.Leaves.UpdateOwn(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeaveUpdated", l)
}

func (h *Handler) handleDeleteLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.Leaves.Delete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeaveDeleted", nil)
}

func (h *Handler) handleSetLeaveStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.Leaves.SetStatus(r.Context(), currentUser(r), chi.URLParam(r, "id"),
		model.LeaveStatus(req.Status), req.Remarks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeaveStatusUpdated", l)
}

func (h *Handler) handleRejectLeave(w http.ResponseWriter, r *http.Request) {
	var req remarksRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.Remediation.Reject(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Remarks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeaveRejected", l)
}

func (h *Handler) handleApproveLeave(w http.ResponseWriter, r *http.Request) {
	var req remarksRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.Remediation.Approve(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Remarks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "LeaveApproved", l)
}
