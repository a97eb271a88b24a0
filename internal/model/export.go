package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Results    []ExportResult `json:"results"`
}

// ExportResult holds one student's test outcome for export.
type ExportResult struct {
	Username       string      `json:"username"`
	DisplayName    string      `json:"display_name"`
	LeaveID        string      `json:"leave_id"`
	LeaveStart     string      `json:"leave_start"`
	LeaveEnd       string      `json:"leave_end"`
	LeaveStatus    LeaveStatus `json:"leave_status"`
	TestTitle      string      `json:"test_title"`
	TotalScore     int         `json:"total_score"`
	MaxScore       int         `json:"max_score"`
	Percentage     int         `json:"percentage"`
	Passed         bool        `json:"passed"`
	TabSwitchCount int         `json:"tab_switch_count"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	Reevaluated    bool        `json:"reevaluated"`
	RetestUsed     bool        `json:"retest_used"`
}
