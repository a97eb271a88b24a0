package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/leaveportal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestUser(t *testing.T, s *Store, username string, role model.UserRole) *model.User {
	t.Helper()
	u := &model.User{
		Username:     username,
		DisplayName:  "User " + username,
		PasswordHash: "hash",
		Role:         role,
		Active:       true,
		LeaveBalance: model.DefaultLeaveBalance,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("insertTestUser: %v", err)
	}
	return u
}

func insertTestLeave(t *testing.T, s *Store, studentID string) *model.Leave {
	t.Helper()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	l := &model.Leave{
		StudentID: studentID,
		StartDate: start,
		EndDate:   end,
		Reason:    "family wedding out of town",
		LeaveType: model.LeaveTypePersonal,
		Status:    model.LeaveStatusPending,
		TotalDays: model.InclusiveDays(start, end),
	}
	if err := s.CreateLeave(context.Background(), l); err != nil {
		t.Fatalf("insertTestLeave: %v", err)
	}
	return l
}

func insertTestTest(t *testing.T, s *Store, leaveID string) *model.Test {
	t.Helper()
	tst := &model.Test{
		LeaveID:   leaveID,
		CreatedBy: "admin",
		Title:     "Go basics",
		MCQQuestions: []model.MCQQuestion{
			{Question: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: 1, Marks: 5},
		},
		CodingQuestions: []model.CodingQuestion{
			{Question: "print 42", ExpectedOutput: "42", Marks: 5},
		},
		TotalMarks: 10,
		PassMarks:  6,
		Duration:   model.DefaultTestDuration,
		IsActive:   true,
	}
	if err := s.CreateTest(context.Background(), tst); err != nil {
		t.Fatalf("insertTestTest: %v", err)
	}
	return tst
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.UserCount(ctx)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	u := insertTestUser(t, s, "alice", model.UserRoleStudent)
	insertTestUser(t, s, "root", model.UserRoleAdmin)

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("expected user %s, got %+v", u.ID, got)
	}
	if got.LeaveBalance != model.DefaultLeaveBalance {
		t.Errorf("expected balance %d, got %d", model.DefaultLeaveBalance, got.LeaveBalance)
	}

	missing, err := s.GetUserByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing user, got %v, %v", missing, err)
	}

	err = s.CreateUser(ctx, &model.User{Username: "alice", PasswordHash: "x", Role: model.UserRoleStudent})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	students, err := s.ListUsers(ctx, model.UserRoleStudent)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(students) != 1 {
		t.Errorf("expected 1 student, got %d", len(students))
	}

	if err := s.ToggleUserActive(ctx, u.ID); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	if err := s.AdjustLeaveBalance(ctx, u.ID, -3); err != nil {
		t.Fatalf("AdjustLeaveBalance: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if got.Active {
		t.Error("expected user inactive after toggle")
	}
	if got.LeaveBalance != model.DefaultLeaveBalance-3 {
		t.Errorf("expected balance %d, got %d", model.DefaultLeaveBalance-3, got.LeaveBalance)
	}

	if err := s.ToggleUserActive(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLeaveCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := insertTestUser(t, s, "bob", model.UserRoleStudent)
	l := insertTestLeave(t, s, u.ID)

	got, err := s.GetLeave(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLeave: %v", err)
	}
	if got.TotalDays != 3 || got.Status != model.LeaveStatusPending {
		t.Errorf("unexpected leave %+v", got)
	}
	if !got.StartDate.Equal(l.StartDate) {
		t.Errorf("start date round trip: got %v, want %v", got.StartDate, l.StartDate)
	}
	if got.ReviewedBy != nil || got.ReviewedAt != nil {
		t.Error("expected no reviewer on new leave")
	}

	reviewer := "admin-1"
	now := time.Now().UTC()
	got.Status = model.LeaveStatusApproved
	got.ReviewedBy = &reviewer
	got.ReviewedAt = &now
	got.BalanceDeducted = true
	if err := s.SaveLeave(ctx, got); err != nil {
		t.Fatalf("SaveLeave: %v", err)
	}
	again, _ := s.GetLeave(ctx, l.ID)
	if again.Status != model.LeaveStatusApproved || !again.BalanceDeducted {
		t.Errorf("save not persisted: %+v", again)
	}
	if again.ReviewedBy == nil || *again.ReviewedBy != reviewer {
		t.Errorf("expected reviewer %q", reviewer)
	}

	insertTestLeave(t, s, u.ID)
	all, err := s.ListLeavesByStudent(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListLeavesByStudent: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 leaves, got %d", len(all))
	}

	approved, err := s.ListLeaves(ctx, model.LeaveFilter{Status: model.LeaveStatusApproved})
	if err != nil {
		t.Fatalf("ListLeaves: %v", err)
	}
	if len(approved) != 1 {
		t.Errorf("expected 1 approved leave, got %d", len(approved))
	}

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	within, err := s.ListLeaves(ctx, model.LeaveFilter{From: &from, To: &to})
	if err != nil {
		t.Fatalf("ListLeaves range: %v", err)
	}
	if len(within) != 2 {
		t.Errorf("expected 2 leaves within range, got %d", len(within))
	}
	later := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	none, _ := s.ListLeaves(ctx, model.LeaveFilter{From: &later})
	if len(none) != 0 {
		t.Errorf("expected no leaves starting after %v, got %d", later, len(none))
	}

	if err := s.DeleteLeave(ctx, l.ID); err != nil {
		t.Fatalf("DeleteLeave: %v", err)
	}
	if _, err := s.GetLeave(ctx, l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTestUniquePerLeave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := insertTestUser(t, s, "carol", model.UserRoleStudent)
	l := insertTestLeave(t, s, u.ID)
	tst := insertTestTest(t, s, l.ID)

	err := s.CreateTest(ctx, &model.Test{LeaveID: l.ID, Title: "dup", TotalMarks: 1, PassMarks: 1})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetTestByLeave(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetTestByLeave: %v", err)
	}
	if got.ID != tst.ID || len(got.MCQQuestions) != 1 || got.MCQQuestions[0].CorrectAnswer != 1 {
		t.Errorf("unexpected test %+v", got)
	}
	if got.CodingQuestions[0].ExpectedOutput != "42" {
		t.Errorf("expected output 42, got %q", got.CodingQuestions[0].ExpectedOutput)
	}

	got.Title = "Go basics v2"
	got.MCQQuestions[0].CorrectAnswer = 0
	if err := s.UpdateTest(ctx, got); err != nil {
		t.Fatalf("UpdateTest: %v", err)
	}
	updated, _ := s.GetTest(ctx, tst.ID)
	if updated.Title != "Go basics v2" || updated.MCQQuestions[0].CorrectAnswer != 0 {
		t.Errorf("update not persisted: %+v", updated)
	}

	mine, err := s.ListTestsByStudent(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListTestsByStudent: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("expected 1 test, got %d", len(mine))
	}
	other, _ := s.ListTestsByStudent(ctx, "someone-else")
	if len(other) != 0 {
		t.Errorf("expected no tests for other student, got %d", len(other))
	}
}

func TestResultUniquePerStudent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := insertTestUser(t, s, "dave", model.UserRoleStudent)
	l := insertTestLeave(t, s, u.ID)
	tst := insertTestTest(t, s, l.ID)

	sel := 1
	r := &model.TestResult{
		TestID:     tst.ID,
		StudentID:  u.ID,
		LeaveID:    l.ID,
		MCQAnswers: []model.MCQAnswer{{QuestionIndex: 0, SelectedAnswer: &sel, CorrectAnswer: 1, IsCorrect: true, MarksAwarded: 5}},
		MCQScore:   5,
		TotalScore: 5,
		MaxScore:   10,
		Percentage: 50,
		PassMarks:  6,
	}
	if err := s.CreateResult(ctx, r); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	dup := &model.TestResult{TestID: tst.ID, StudentID: u.ID, LeaveID: l.ID}
	if err := s.CreateResult(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetResultForStudent(ctx, tst.ID, u.ID)
	if err != nil {
		t.Fatalf("GetResultForStudent: %v", err)
	}
	if got.MCQAnswers[0].SelectedAnswer == nil || *got.MCQAnswers[0].SelectedAnswer != 1 {
		t.Errorf("selected answer not round-tripped: %+v", got.MCQAnswers)
	}

	got.TotalScore = 10
	got.Passed = true
	if err := s.UpdateResult(ctx, got); err != nil {
		t.Fatalf("UpdateResult: %v", err)
	}
	again, _ := s.GetResult(ctx, r.ID)
	if again.TotalScore != 10 || !again.Passed {
		t.Errorf("update not persisted: %+v", again)
	}

	// Deleting the test cascades to its results.
	if err := s.DeleteTest(ctx, tst.ID); err != nil {
		t.Fatalf("DeleteTest: %v", err)
	}
	if _, err := s.GetResult(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected result removed with test, got %v", err)
	}
}

func TestInTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := insertTestUser(t, s, "erin", model.UserRoleStudent)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q *Queries) error {
		if err := q.AdjustLeaveBalance(ctx, u.ID, -5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.GetUserByID(ctx, u.ID)
	if got.LeaveBalance != model.DefaultLeaveBalance {
		t.Errorf("expected rollback to keep balance %d, got %d", model.DefaultLeaveBalance, got.LeaveBalance)
	}

	err = s.InTx(ctx, func(q *Queries) error {
		return q.AdjustLeaveBalance(ctx, u.ID, -5)
	})
	if err != nil {
		t.Fatalf("InTx commit: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if got.LeaveBalance != model.DefaultLeaveBalance-5 {
		t.Errorf("expected committed balance %d, got %d", model.DefaultLeaveBalance-5, got.LeaveBalance)
	}
}

func TestBankImport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	questions := []model.BankQuestion{
		{Subject: "go", Difficulty: model.DifficultyEasy, Question: "q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 0},
		{Subject: "go", Difficulty: model.DifficultyEasy, Question: "q2", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1},
		{Subject: "go", Difficulty: model.DifficultyHard, Question: "q3", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 2},
		{Subject: "sql", Difficulty: model.DifficultyEasy, Question: "q4", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 3},
	}
	n, err := s.ImportBank(ctx, "bank.json", "abc", questions)
	if err != nil {
		t.Fatalf("ImportBank: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 inserted, got %d", n)
	}

	// Same questions again are skipped.
	again := []model.BankQuestion{{Subject: "go", Difficulty: model.DifficultyEasy, Question: "q1", Options: []string{"a", "b", "c", "d"}}}
	n, err = s.ImportBank(ctx, "other.json", "def", again)
	if err != nil {
		t.Fatalf("ImportBank again: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 inserted, got %d", n)
	}

	hash, err := s.GetImportedFileHash(ctx, "bank.json")
	if err != nil || hash != "abc" {
		t.Errorf("GetImportedFileHash = %q, %v", hash, err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "missing.json")
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	count, err := s.CountBankQuestions(ctx, "go", model.DifficultyEasy)
	if err != nil || count != 2 {
		t.Errorf("CountBankQuestions(go, easy) = %d, %v", count, err)
	}
	count, _ = s.CountBankQuestions(ctx, "go", "")
	if count != 3 {
		t.Errorf("CountBankQuestions(go) = %d, want 3", count)
	}

	picked, err := s.RandomBankQuestions(ctx, "go", model.DifficultyEasy, 5)
	if err != nil {
		t.Fatalf("RandomBankQuestions: %v", err)
	}
	if len(picked) != 2 || len(picked[0].Options) != 4 {
		t.Errorf("unexpected picked questions %+v", picked)
	}

	subjects, err := s.ListSubjects(ctx)
	if err != nil {
		t.Fatalf("ListSubjects: %v", err)
	}
	if len(subjects) != 2 || subjects[0].Subject != "go" || subjects[0].Count != 3 {
		t.Errorf("unexpected subjects %+v", subjects)
	}
}

func TestAuthSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := insertTestUser(t, s, "frank", model.UserRoleStudent)

	sess, err := s.CreateAuthSession(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	got, err := s.GetAuthSession(ctx, sess.ID)
	if err != nil || got == nil || got.UserID != u.ID {
		t.Fatalf("GetAuthSession = %+v, %v", got, err)
	}
	if err := s.DeleteAuthSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	got, _ = s.GetAuthSession(ctx, sess.ID)
	if got != nil {
		t.Error("expected nil after delete")
	}

	expired, err := s.CreateAuthSession(ctx, u.ID, -time.Minute)
	if err != nil {
		t.Fatalf("CreateAuthSession expired: %v", err)
	}
	got, _ = s.GetAuthSession(ctx, expired.ID)
	if got != nil {
		t.Error("expected nil for expired session")
	}
}

func TestExportResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := insertTestUser(t, s, "gina", model.UserRoleStudent)
	l := insertTestLeave(t, s, u.ID)
	tst := insertTestTest(t, s, l.ID)
	r := &model.TestResult{TestID: tst.ID, StudentID: u.ID, LeaveID: l.ID, TotalScore: 8, MaxScore: 10, Percentage: 80, Passed: true, PassMarks: 6}
	if err := s.CreateResult(ctx, r); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}

	out, err := s.ExportResults(ctx)
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	rec := out[0]
	if rec.Username != "gina" || rec.TestTitle != "Go basics" || rec.LeaveStart != "2026-03-10" || rec.LeaveEnd != "2026-03-12" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.Passed || rec.Percentage != 80 {
		t.Errorf("unexpected scores %+v", rec)
	}
}
