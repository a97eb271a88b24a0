package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// MCQAnswer is the evaluated answer to one MCQ question.
type MCQAnswer struct {
	QuestionIndex  int  `json:"question_index"`
	SelectedAnswer *int `json:"selected_answer"`
	CorrectAnswer  int  `json:"correct_answer"`
	IsCorrect      bool `json:"is_correct"`
	MarksAwarded   int  `json:"marks_awarded"`
}

// CodingAnswer is the evaluated answer to one coding question.
type CodingAnswer struct {
	QuestionIndex   int    `json:"question_index"`
	SubmittedOutput string `json:"submitted_output"`
	SubmittedCode   string `json:"submitted_code,omitempty"`
	ExpectedOutput  string `json:"expected_output"`
	IsCorrect       bool   `json:"is_correct"`
	MarksAwarded    int    `json:"marks_awarded"`
}

// TestResult is the scored record of one submission.
type TestResult struct {
	ID             string         `json:"id"`
	TestID         string         `json:"test_id"`
	StudentID      string         `json:"student_id"`
	LeaveID        string         `json:"leave_id"`
	MCQAnswers     []MCQAnswer    `json:"mcq_answers"`
	CodingAnswers  []CodingAnswer `json:"coding_answers"`
	MCQScore       int            `json:"mcq_score"`
	CodingScore    int            `json:"coding_score"`
	TotalScore     int            `json:"total_score"`
	MaxScore       int            `json:"max_score"`
	Percentage     int            `json:"percentage"`
	Passed         bool           `json:"passed"`
	PassMarks      int            `json:"pass_marks"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	TimeTaken      int            `json:"time_taken"`
	TabSwitchCount int            `json:"tab_switch_count"`
	Feedback       string         `json:"feedback"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Choice is a submitted option index. Clients send a number, a numeric
// string or null; anything else decodes to an unset choice.
type Choice struct {
	index int
	set   bool
}

// Pick returns a choice for option i.
func Pick(i int) Choice {
	return Choice{index: i, set: true}
}

// Index returns the chosen option and whether one was chosen.
func (c Choice) Index() (int, bool) {
	return c.index, c.set
}

// Ptr returns the index as a pointer, nil when unset.
func (c Choice) Ptr() *int {
	i, ok := c.Index()
	if !ok {
		return nil
	}
	return &i
}

func (c Choice) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(c.index)), nil
}

func (c *Choice) UnmarshalJSON(b []byte) error {
	*c = Choice{}
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return nil
	}
	*c = Pick(int(f))
	return nil
}

// SubmittedMCQ is a raw MCQ answer from the client.
type SubmittedMCQ struct {
	QuestionIndex  int    `json:"question_index"`
	SelectedAnswer Choice `json:"selected_answer"`
}

// SubmittedCoding is a raw coding answer from the client.
type SubmittedCoding struct {
	QuestionIndex   int    `json:"question_index"`
	SubmittedOutput string `json:"submitted_output"`
	SubmittedCode   string `json:"submitted_code,omitempty"`
}

// Submission is a student's full set of answers for one test.
type Submission struct {
	MCQAnswers     []SubmittedMCQ    `json:"mcq_answers"`
	CodingAnswers  []SubmittedCoding `json:"coding_answers"`
	TimeTaken      int               `json:"time_taken"`
	TabSwitchCount int               `json:"tab_switch_count"`
}

// ResultStats aggregates a student's results for admins.
type ResultStats struct {
	TotalTests        int `json:"total_tests"`
	PassedTests       int `json:"passed_tests"`
	FailedTests       int `json:"failed_tests"`
	AveragePercentage int `json:"average_percentage"`
}

// StudentStatistics is the student's own dashboard summary.
type StudentStatistics struct {
	TotalTests     int     `json:"total_tests"`
	AssignedTests  int     `json:"assigned_tests"`
	SubmittedTests int     `json:"submitted_tests"`
	PendingTests   int     `json:"pending_tests"`
	PassedTests    int     `json:"passed_tests"`
	FailedTests    int     `json:"failed_tests"`
	AverageScore   float64 `json:"average_score"`
	PassRate       int     `json:"pass_rate"`
	CompletionRate int     `json:"completion_rate"`
}
