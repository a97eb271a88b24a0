package evaluation

import (
	"context"
	"math"
	"strings"

	"github.com/pavelanni/leaveportal/internal/i18n"
	"github.com/pavelanni/leaveportal/internal/model"
)

// ScoreMCQ scores submitted choices against the answer key. Each question
// takes the first answer carrying its index; a missing or malformed answer
// scores zero.
func ScoreMCQ(questions []model.MCQQuestion, submitted []model.SubmittedMCQ) ([]model.MCQAnswer, int) {
	byIndex := make(map[int]model.Choice, len(submitted))
	for _, s := range submitted {
		if _, seen := byIndex[s.QuestionIndex]; !seen {
			byIndex[s.QuestionIndex] = s.SelectedAnswer
		}
	}
	answers := make([]model.MCQAnswer, len(questions))
	score := 0
	for i, q := range questions {
		a := model.MCQAnswer{QuestionIndex: i, CorrectAnswer: q.CorrectAnswer}
		if c, ok := byIndex[i]; ok {
			a.SelectedAnswer = c.Ptr()
		}
		markMCQ(&a, q)
		score += a.MarksAwarded
		answers[i] = a
	}
	return answers, score
}

func markMCQ(a *model.MCQAnswer, q model.MCQQuestion) {
	a.CorrectAnswer = q.CorrectAnswer
	a.IsCorrect = a.SelectedAnswer != nil && *a.SelectedAnswer == q.CorrectAnswer
	a.MarksAwarded = 0
	if a.IsCorrect {
		a.MarksAwarded = q.Marks
	}
}

// ScoreCoding compares trimmed submitted output with the trimmed expected
// output, case-sensitively. Submitted code is stored but never run.
func ScoreCoding(questions []model.CodingQuestion, submitted []model.SubmittedCoding) ([]model.CodingAnswer, int) {
	byIndex := make(map[int]model.SubmittedCoding, len(submitted))
	for _, s := range submitted {
		if _, seen := byIndex[s.QuestionIndex]; !seen {
			byIndex[s.QuestionIndex] = s
		}
	}
	answers := make([]model.CodingAnswer, len(questions))
	score := 0
	for i, q := range questions {
		a := model.CodingAnswer{QuestionIndex: i}
		s, attempted := byIndex[i]
		if attempted {
			a.SubmittedOutput = s.SubmittedOutput
			a.SubmittedCode = s.SubmittedCode
		}
		markCoding(&a, q, attempted)
		score += a.MarksAwarded
		answers[i] = a
	}
	return answers, score
}

func markCoding(a *model.CodingAnswer, q model.CodingQuestion, attempted bool) {
	expected := strings.TrimSpace(q.ExpectedOutput)
	a.ExpectedOutput = expected
	a.IsCorrect = attempted && strings.TrimSpace(a.SubmittedOutput) == expected
	a.MarksAwarded = 0
	if a.IsCorrect {
		a.MarksAwarded = q.Marks
	}
}

// Percentage returns round(score / max * 100), or 0 when max is 0.
func Percentage(score, max int) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(max) * 100))
}

// Feedback returns the localized feedback text for a score.
func Feedback(ctx context.Context, score, max int, passed bool) string {
	pct := Percentage(score, max)
	var id string
	switch {
	case passed && pct >= 90:
		id = "FeedbackOutstanding"
	case passed && pct >= 75:
		id = "FeedbackExcellent"
	case passed:
		id = "FeedbackGood"
	case pct >= 50:
		id = "FeedbackBelowThreshold"
	default:
		id = "FeedbackNeedsImprovement"
	}
	return i18n.Td(ctx, id, map[string]any{"Score": score, "Max": max})
}

// finish fills the derived totals of r from its per-question answers.
func finish(ctx context.Context, r *model.TestResult, t *model.Test) {
	r.MCQScore, r.CodingScore = 0, 0
	for _, a := range r.MCQAnswers {
		r.MCQScore += a.MarksAwarded
	}
	for _, a := range r.CodingAnswers {
		r.CodingScore += a.MarksAwarded
	}
	r.TotalScore = r.MCQScore + r.CodingScore
	r.MaxScore = t.TotalMarks
	r.PassMarks = t.PassMarks
	r.Passed = r.TotalScore >= r.PassMarks
	r.Percentage = Percentage(r.TotalScore, r.MaxScore)
	r.Feedback = Feedback(ctx, r.TotalScore, r.MaxScore, r.Passed)
}

// Score evaluates a submission against t.
func Score(ctx context.Context, t *model.Test, studentID string, sub model.Submission) *model.TestResult {
	r := &model.TestResult{
		TestID:         t.ID,
		StudentID:      studentID,
		LeaveID:        t.LeaveID,
		TimeTaken:      sub.TimeTaken,
		TabSwitchCount: sub.TabSwitchCount,
	}
	r.MCQAnswers, _ = ScoreMCQ(t.MCQQuestions, sub.MCQAnswers)
	r.CodingAnswers, _ = ScoreCoding(t.CodingQuestions, sub.CodingAnswers)
	finish(ctx, r, t)
	return r
}

// Rescore recomputes r in place against the current content of t. Stored
// answers keep their submitted values; answers to questions no longer in
// the test award nothing.
func Rescore(ctx context.Context, t *model.Test, r *model.TestResult) {
	for i := range r.MCQAnswers {
		a := &r.MCQAnswers[i]
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(t.MCQQuestions) {
			a.IsCorrect, a.MarksAwarded = false, 0
			continue
		}
		markMCQ(a, t.MCQQuestions[a.QuestionIndex])
	}
	for i := range r.CodingAnswers {
		a := &r.CodingAnswers[i]
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(t.CodingQuestions) {
			a.IsCorrect, a.MarksAwarded = false, 0
			continue
		}
		markCoding(a, t.CodingQuestions[a.QuestionIndex], a.SubmittedOutput != "" || a.SubmittedCode != "")
	}
	finish(ctx, r, t)
}
