package assessment

import (
	"context"
	"testing"
	"time"

	"github.com/pavelanni/leaveportal/internal/apperr"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/store"
)

type fixture struct {
	svc     *Service
	store   *store.Store
	student *model.User
	other   *model.User
	admin   *model.User
	leave   *model.Leave
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{svc: New(s), store: s}
	f.student = createUser(t, s, "student", model.UserRoleStudent)
	f.other = createUser(t, s, "other", model.UserRoleStudent)
	f.admin = createUser(t, s, "admin", model.UserRoleAdmin)

	f.leave = &model.Leave{
		StudentID: f.student.ID,
		StartDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		Reason:    "attending a family wedding",
		LeaveType: model.LeaveTypePersonal,
		Status:    model.LeaveStatusPending,
		TotalDays: 3,
	}
	if err := s.CreateLeave(context.Background(), f.leave); err != nil {
		t.Fatalf("CreateLeave: %v", err)
	}
	return f
}

func createUser(t *testing.T, s *store.Store, name string, role model.UserRole) *model.User {
	t.Helper()
	u := &model.User{Username: name, PasswordHash: "x", Role: role, Active: true, LeaveBalance: model.DefaultLeaveBalance}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func twoMCQ() Draft {
	return Draft{
		Title: "Go basics",
		MCQQuestions: []model.MCQQuestion{
			{Question: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: 1, Marks: 5},
			{Question: "Zero value of int?", Options: []string{"0", "nil", "1"}, CorrectAnswer: 0, Marks: 5},
		},
	}
}

func TestCreateDefaultsAndLeaveTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tt, err := f.svc.Create(ctx, f.admin, f.leave.ID, twoMCQ())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tt.TotalMarks != 10 || tt.PassMarks != 6 || tt.Duration != model.DefaultTestDuration || !tt.IsActive {
		t.Errorf("unexpected test %+v", tt)
	}

	l, err := f.store.GetLeave(ctx, f.leave.ID)
	if err != nil {
		t.Fatalf("GetLeave: %v", err)
	}
	if l.Status != model.LeaveStatusTestAssigned {
		t.Errorf("expected test_assigned, got %s", l.Status)
	}
	if l.ReviewedBy == nil || *l.ReviewedBy != f.admin.ID || l.ReviewedAt == nil {
		t.Errorf("expected reviewer stamp, got %v %v", l.ReviewedBy, l.ReviewedAt)
	}

	if _, err := f.svc.Create(ctx, f.admin, f.leave.ID, twoMCQ()); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("second Create: expected conflict, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.admin, "missing", twoMCQ()); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing leave: expected not found, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.student, f.leave.ID, twoMCQ()); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("student Create: expected forbidden, got %v", err)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"no title", func(d *Draft) { d.Title = " " }},
		{"no questions", func(d *Draft) { d.MCQQuestions = nil }},
		{"one option", func(d *Draft) { d.MCQQuestions[0].Options = []string{"4"} }},
		{"answer out of range", func(d *Draft) { d.MCQQuestions[0].CorrectAnswer = 2 }},
		{"negative answer", func(d *Draft) { d.MCQQuestions[0].CorrectAnswer = -1 }},
		{"zero marks", func(d *Draft) { d.MCQQuestions[1].Marks = 0 }},
		{"pass marks above total", func(d *Draft) { d.PassMarks = 11 }},
		{"negative pass marks", func(d *Draft) { d.PassMarks = -1 }},
		{"negative duration", func(d *Draft) { d.Duration = -5 }},
		{"coding without output", func(d *Draft) {
			d.CodingQuestions = []model.CodingQuestion{{Question: "print hi", Marks: 2}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := twoMCQ()
			tt.mutate(&d)
			if _, err := Build("leave", "admin", d); apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	d := twoMCQ()
	d.PassMarks = 10
	d.CodingQuestions = []model.CodingQuestion{{Question: "print hi", ExpectedOutput: "hi", Marks: 3}}
	got, err := Build("leave", "admin", d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got.TotalMarks != 13 || got.PassMarks != 10 {
		t.Errorf("expected 13/10, got %d/%d", got.TotalMarks, got.PassMarks)
	}
}

func TestGetRedactsUntilSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt, err := f.svc.Create(ctx, f.admin, f.leave.ID, twoMCQ())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.svc.Get(ctx, f.student, tt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := got.Payload(f.student).(model.TestView); !ok {
		t.Errorf("student should see a redacted view before submitting")
	}
	if _, ok := got.Payload(f.admin).(*model.Test); !ok {
		t.Errorf("admin should see the full test")
	}

	if _, err := f.svc.GetByLeave(ctx, f.other, f.leave.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("other student: expected forbidden, got %v", err)
	}
	if _, err := f.svc.Get(ctx, f.student, "missing"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing: expected not found, got %v", err)
	}

	res := &model.TestResult{TestID: tt.ID, StudentID: f.student.ID, LeaveID: f.leave.ID, MaxScore: 10, PassMarks: 6}
	if err := f.store.CreateResult(ctx, res); err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	got, err = f.svc.GetByLeave(ctx, f.student, f.leave.ID)
	if err != nil {
		t.Fatalf("GetByLeave: %v", err)
	}
	if !got.Submitted || got.Redacted(f.student) {
		t.Errorf("student should see answers after submitting")
	}

	mine, err := f.svc.ListMine(ctx, f.student)
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListMine = %d, %v", len(mine), err)
	}
	if _, ok := mine[0].(model.Test); !ok {
		t.Errorf("submitted test should be listed in full, got %T", mine[0])
	}
}

func TestUpdateRecomputesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt, err := f.svc.Create(ctx, f.admin, f.leave.ID, twoMCQ())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.svc.Update(ctx, f.admin, tt.ID, Patch{
		CodingQuestions: []model.CodingQuestion{{Question: "print hi", ExpectedOutput: "hi", Marks: 4}},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.TotalMarks != 14 || got.PassMarks != 6 {
		t.Errorf("expected 14/6, got %d/%d", got.TotalMarks, got.PassMarks)
	}

	tooHigh := 20
	if _, err := f.svc.Update(ctx, f.admin, tt.ID, Patch{PassMarks: &tooHigh}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation for pass marks above total, got %v", err)
	}
	inactive := false
	got, err = f.svc.Update(ctx, f.admin, tt.ID, Patch{IsActive: &inactive})
	if err != nil || got.IsActive {
		t.Errorf("deactivate: %v, active=%v", err, got != nil && got.IsActive)
	}
	if _, err := f.svc.Update(ctx, f.admin, "missing", Patch{}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing: expected not found, got %v", err)
	}
}

func TestDeleteRevertsLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt, err := f.svc.Create(ctx, f.admin, f.leave.ID, twoMCQ())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.Delete(ctx, f.student, tt.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("student Delete: expected forbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.admin, tt.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	l, _ := f.store.GetLeave(ctx, f.leave.ID)
	if l.Status != model.LeaveStatusPending {
		t.Errorf("expected pending after delete, got %s", l.Status)
	}
	if err := f.svc.Delete(ctx, f.admin, tt.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("second Delete: expected not found, got %v", err)
	}

	all, err := f.svc.ListAll(ctx, f.admin)
	if err != nil || len(all) != 0 {
		t.Errorf("ListAll = %d, %v", len(all), err)
	}
}
