package model

import "time"

// LeaveStatus is the primary lifecycle state of a leave request.
type LeaveStatus string

const (
	LeaveStatusPending      LeaveStatus = "pending"
	LeaveStatusTestAssigned LeaveStatus = "test_assigned"
	LeaveStatusApproved     LeaveStatus = "approved"
	LeaveStatusRejected     LeaveStatus = "rejected"
)

// LeaveStatuses lists every valid status in lifecycle order.
var LeaveStatuses = []LeaveStatus{
	LeaveStatusPending,
	LeaveStatusTestAssigned,
	LeaveStatusApproved,
	LeaveStatusRejected,
}

// Valid reports whether s is one of LeaveStatuses.
func (s LeaveStatus) Valid() bool {
	for _, v := range LeaveStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// LeaveType classifies a leave request.
type LeaveType string

const (
	LeaveTypePersonal  LeaveType = "personal"
	LeaveTypeSick      LeaveType = "sick"
	LeaveTypeEmergency LeaveType = "emergency"
	LeaveTypeVacation  LeaveType = "vacation"
	LeaveTypeOther     LeaveType = "other"
)

// Valid reports whether t is a known leave type.
func (t LeaveType) Valid() bool {
	switch t {
	case LeaveTypePersonal, LeaveTypeSick, LeaveTypeEmergency, LeaveTypeVacation, LeaveTypeOther:
		return true
	}
	return false
}

const (
	// ReasonMinLen and ReasonMaxLen bound the leave reason, in characters.
	ReasonMinLen = 10
	ReasonMaxLen = 500
	// RemarksMaxLen bounds admin remarks.
	RemarksMaxLen = 500
)

// DateLayout is the wire format of leave dates.
const DateLayout = "2006-01-02"

// Leave is a student's request for approved absence.
type Leave struct {
	ID           string      `json:"id"`
	StudentID    string      `json:"student_id"`
	StartDate    time.Time   `json:"start_date"`
	EndDate      time.Time   `json:"end_date"`
	Reason       string      `json:"reason"`
	LeaveType    LeaveType   `json:"leave_type"`
	Status       LeaveStatus `json:"status"`
	TotalDays    int         `json:"total_days"`
	AdminRemarks string      `json:"admin_remarks,omitempty"`
	ReviewedBy   *string     `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty"`

	RetestRequested  bool `json:"retest_requested"`
	RetestApproved   bool `json:"retest_approved"`
	RetestUsed       bool `json:"retest_used"`
	ReevaluationUsed bool `json:"reevaluation_used"`
	// BalanceDeducted records that TotalDays was already taken from the
	// student's balance for this leave.
	BalanceDeducted bool `json:"balance_deducted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeaveFilter narrows admin leave listings. Zero values mean no filtering.
type LeaveFilter struct {
	Status LeaveStatus
	From   *time.Time
	To     *time.Time
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InclusiveDays counts calendar days from start to end, both included.
func InclusiveDays(start, end time.Time) int {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		s, e = e, s
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// LeaveDecision describes a status decision applied to a leave.
type LeaveDecision struct {
	Status     LeaveStatus
	Remarks    string
	ReviewedBy string // empty keeps the previous reviewer
	At         time.Time
}

// LeaveDecidedEvent is published after a leave reaches approved or rejected.
type LeaveDecidedEvent struct {
	LeaveID   string      `json:"leave_id"`
	StudentID string      `json:"student_id"`
	Status    LeaveStatus `json:"status"`
	Source    string      `json:"source"`
	At        time.Time   `json:"at"`
}

// Decision sources carried on LeaveDecidedEvent.
const (
	DecisionSourceAdmin        = "admin"
	DecisionSourceEvaluation   = "evaluation"
	DecisionSourceReevaluation = "reevaluation"
	DecisionSourceOverride     = "override"
)
