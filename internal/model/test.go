package model

import "time"

const (
	// DefaultTestDuration is the test duration in seconds when none is given.
	DefaultTestDuration = 3600
	// DefaultPassPercentage is used to derive passMarks when none is given.
	DefaultPassPercentage = 60
)

// MCQQuestion is a multiple-choice question with a zero-based answer key.
type MCQQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Marks         int      `json:"marks"`
}

// CodingQuestion is compared by exact trimmed output, never executed.
type CodingQuestion struct {
	Question       string `json:"question"`
	ExpectedOutput string `json:"expected_output"`
	Marks          int    `json:"marks"`
}

// Test is an assessment bound 1:1 to a leave.
type Test struct {
	ID              string           `json:"id"`
	LeaveID         string           `json:"leave_id"`
	CreatedBy       string           `json:"created_by"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	MCQQuestions    []MCQQuestion    `json:"mcq_questions"`
	CodingQuestions []CodingQuestion `json:"coding_questions"`
	TotalMarks      int              `json:"total_marks"`
	PassMarks       int              `json:"pass_marks"`
	Duration        int              `json:"duration"`
	IsActive        bool             `json:"is_active"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// SumMarks returns the total of all question marks.
func (t *Test) SumMarks() int {
	total := 0
	for _, q := range t.MCQQuestions {
		total += q.Marks
	}
	for _, q := range t.CodingQuestions {
		total += q.Marks
	}
	return total
}

// QuestionCount returns the number of questions of both kinds.
func (t *Test) QuestionCount() int {
	return len(t.MCQQuestions) + len(t.CodingQuestions)
}

// DefaultPassMarks returns ceil(total * DefaultPassPercentage / 100).
func DefaultPassMarks(total int) int {
	return PassMarksFor(total, DefaultPassPercentage)
}

// PassMarksFor returns ceil(total * pct / 100) in integer arithmetic.
func PassMarksFor(total, pct int) int {
	return (total*pct + 99) / 100
}

// MCQQuestionView is an MCQ question without its answer key.
type MCQQuestionView struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Marks    int      `json:"marks"`
}

// CodingQuestionView is a coding question without its expected output.
type CodingQuestionView struct {
	Question string `json:"question"`
	Marks    int    `json:"marks"`
}

// TestView is what a student sees before submitting.
type TestView struct {
	ID              string               `json:"id"`
	LeaveID         string               `json:"leave_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	MCQQuestions    []MCQQuestionView    `json:"mcq_questions"`
	CodingQuestions []CodingQuestionView `json:"coding_questions"`
	TotalMarks      int                  `json:"total_marks"`
	PassMarks       int                  `json:"pass_marks"`
	Duration        int                  `json:"duration"`
	IsActive        bool                 `json:"is_active"`
	CreatedAt       time.Time            `json:"created_at"`
}

// View strips answer keys from the test.
func (t *Test) View() TestView {
	v := TestView{
		ID:              t.ID,
		LeaveID:         t.LeaveID,
		Title:           t.Title,
		Description:     t.Description,
		MCQQuestions:    make([]MCQQuestionView, len(t.MCQQuestions)),
		CodingQuestions: make([]CodingQuestionView, len(t.CodingQuestions)),
		TotalMarks:      t.TotalMarks,
		PassMarks:       t.PassMarks,
		Duration:        t.Duration,
		IsActive:        t.IsActive,
		CreatedAt:       t.CreatedAt,
	}
	for i, q := range t.MCQQuestions {
		v.MCQQuestions[i] = MCQQuestionView{Question: q.Question, Options: q.Options, Marks: q.Marks}
	}
	for i, q := range t.CodingQuestions {
		v.CodingQuestions[i] = CodingQuestionView{Question: q.Question, Marks: q.Marks}
	}
	return v
}

// GeneratedQuestion is one item returned by a question source.
type GeneratedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

// Difficulty of bank and generated questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// BankQuestion is a curated question in the static bank.
type BankQuestion struct {
	ID            string     `json:"id"`
	Subject       string     `json:"subject"`
	Difficulty    Difficulty `json:"difficulty"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correct_answer"`
}

// SubjectInfo summarizes one bank subject.
type SubjectInfo struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}
