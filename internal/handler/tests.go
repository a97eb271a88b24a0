package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/leaveportal/internal/assessment"
	"github.com/pavelanni/leaveportal/internal/generator"
	appI18n "github.com/pavelanni/leaveportal/internal/i18n"
	"github.com/pavelanni/leaveportal/internal/model"
)

type createTestRequest struct {
	LeaveID         string                 `json:"leave_id" validate:"required"`
	Title           string                 `json:"title" validate:"required,max=200"`
	Description     string                 `json:"description"`
	MCQQuestions    []model.MCQQuestion    `json:"mcq_questions"`
	CodingQuestions []model.CodingQuestion `json:"coding_questions"`
	PassMarks       int                    `json:"pass_marks" validate:"min=0"`
	Duration        int                    `json:"duration" validate:"min=0"`
}

type updateTestRequest struct {
	Title           *string                `json:"title" validate:"omitempty,max=200"`
	Description     *string                `json:"description"`
	MCQQuestions    []model.MCQQuestion    `json:"mcq_questions"`
	CodingQuestions []model.CodingQuestion `json:"coding_questions"`
	PassMarks       *int                   `json:"pass_marks" validate:"omitempty,min=0"`
	Duration        *int                   `json:"duration" validate:"omitempty,min=1"`
	IsActive        *bool                  `json:"is_active"`
}

type generateRequest struct {
	LeaveID           string `json:"leave_id" validate:"required"`
	Subject           string `json:"subject" validate:"required,max=200"`
	Difficulty        string `json:"difficulty" validate:"required,oneof=easy medium hard"`
	NumberOfQuestions int    `json:"number_of_questions" validate:"required,min=1,max=50"`
	TotalMarks        int    `json:"total_marks" validate:"required,min=1"`
	PassingPercentage int    `json:"passing_percentage" validate:"omitempty,min=1,max=100"`
	Duration          int    `json:"duration" validate:"omitempty,min=1"`
	Title             string `json:"title" validate:"max=200"`
	Description       string `json:"description"`
}

type questionCount struct {
	Subject    string           `json:"subject"`
	Difficulty model.Difficulty `json:"difficulty,omitempty"`
	Count      int              `json:"count"`
}

func (h *Handler) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Tests.Create(r.Context(), currentUser(r), req.LeaveID, assessment.Draft{
		Title:           req.Title,
		Description:     req.Description,
		MCQQuestions:    req.MCQQuestions,
		CodingQuestions: req.CodingQuestions,
		PassMarks:       req.PassMarks,
		Duration:        req.Duration,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, "TestCreated", t)
}

func (h *Handler) handleGenerateTest(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Generator.Generate(r.Context(), currentUser(r), generator.Request{
		LeaveID:           req.LeaveID,
		Subject:           req.Subject,
		Difficulty:        model.Difficulty(req.Difficulty),
		NumberOfQuestions: req.NumberOfQuestions,
		TotalMarks:        req.TotalMarks,
		PassingPercentage: req.PassingPercentage,
		Duration:          req.Duration,
		Title:             req.Title,
		Description:       req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, "TestGenerated", t)
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.Tests.ListAll(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestsRetrieved", tests)
}

func (h *Handler) handleMyTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.Tests.ListMine(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestsRetrieved", tests)
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.Generator.Subjects(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "SubjectsRetrieved", subjects)
}

func (h *Handler) handleQuestionCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject, difficulty := q.Get("subject"), model.Difficulty(q.Get("difficulty"))
	n, err := h.Generator.QuestionCount(r.Context(), currentUser(r), subject, difficulty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: appI18n.Tp(r.Context(), "QuestionsAvailable", n),
		Data:    questionCount{Subject: subject, Difficulty: difficulty, Count: n},
	})
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	l, err := h.Tests.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestRetrieved", l.Payload(currentUser(r)))
}

func (h *Handler) handleTestByLeave(w http.ResponseWriter, r *http.Request) {
	l, err := h.Tests.GetByLeave(r.Context(), currentUser(r), chi.URLParam(r, "leaveID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestRetrieved", l.Payload(currentUser(r)))
}

func (h *Handler) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	var req updateTestRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Tests.Update(r.Context(), currentUser(r), chi.URLParam(r, "id"), assessment.Patch{
		Title:           req.Title,
		Description:     req.Description,
		MCQQuestions:    req.MCQQuestions,
		CodingQuestions: req.CodingQuestions,
		PassMarks:       req.PassMarks,
		Duration:        req.Duration,
		IsActive:        req.IsActive,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestUpdated", t)
}

func (h *Handler) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	if err := h.Tests.Delete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestDeleted", nil)
}

func (h *Handler) handleSubmitTest(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := h.decode(w, r, &sub); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Engine.Submit(r.Context(), currentUser(r), chi.URLParam(r, "id"), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: out.Message, Data: out})
}

func (h *Handler) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	res, err := h.Remediation.Reevaluate(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "TestReevaluated", res)
}

func (h *Handler) handleRequestRetest(w http.ResponseWriter, r *http.Request) {
	l, err := h.Remediation.RequestRetest(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "RetestRequested", l)
}

func (h *Handler) handleApproveRetest(w http.ResponseWriter, r *http.Request) {
	l, err := h.Remediation.ApproveRetest(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, "RetestApproved", l)
}
