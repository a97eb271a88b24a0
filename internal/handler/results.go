package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleTestResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Result(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "ResultRetrieved", res)
}

func (h *Handler) handleMyResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Engine.MyResults(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "ResultsRetrieved", results)
}

func (h *Handler) handleAllResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Engine.AllResults(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "ResultsRetrieved", results)
}

func (h *Handler) handleStudentResults(w http.ResponseWriter, r *http.Request) {
	sr, err := h.Engine.ResultsByStudent(r.Context(), currentUser(r), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "ResultsRetrieved", sr)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.Statistics(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "StatisticsRetrieved", stats)
}

func (h *Handler) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if err := h.Remediation.DeleteResult(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "ResultDeleted", nil)
}
