package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/leaveportal/internal/assessment"
	"github.com/pavelanni/leaveportal/internal/evaluation"
	"github.com/pavelanni/leaveportal/internal/events"
	"github.com/pavelanni/leaveportal/internal/generator"
	appI18n "github.com/pavelanni/leaveportal/internal/i18n"
	"github.com/pavelanni/leaveportal/internal/identity"
	"github.com/pavelanni/leaveportal/internal/leave"
	"github.com/pavelanni/leaveportal/internal/metrics"
	"github.com/pavelanni/leaveportal/internal/model"
	"github.com/pavelanni/leaveportal/internal/ratelimit"
	"github.com/pavelanni/leaveportal/internal/remediation"
	"github.com/pavelanni/leaveportal/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t       *testing.T
	store   *store.Store
	srv     *httptest.Server
	student *model.User
	admin   *model.User
	events  *events.Memory
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	gate, err := identity.New(s, identity.Config{SigningKey: "test-secret", Issuer: "leaveportal-test"})
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	ts := &testServer{t: t, store: s, events: &events.Memory{}}
	ts.admin, err = identity.CreateUser(ctx, s, identity.NewUser{Username: "admin", Password: "adminpass", Role: model.UserRoleAdmin})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	ts.student, err = identity.CreateUser(ctx, s, identity.NewUser{Username: "alice", Password: "alicepass", Role: model.UserRoleStudent})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}

	var bank []model.BankQuestion
	for i := 0; i < 4; i++ {
		bank = append(bank, model.BankQuestion{
			Subject:       "Networks",
			Difficulty:    model.DifficultyEasy,
			Question:      fmt.Sprintf("Which layer is number %d?", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 1,
		})
	}
	if _, err := s.ImportBank(ctx, "bank.json", "hash", bank); err != nil {
		t.Fatalf("ImportBank: %v", err)
	}

	m := metrics.New()
	tests := assessment.New(s)
	bankSource := generator.NewBankSource(s)
	h := New(Deps{
		Gate:        gate,
		Leaves:      leave.New(s, ts.events, m),
		Tests:       tests,
		Engine:      evaluation.New(s, ts.events, m),
		Remediation: remediation.New(s, ts.events, m),
		Generator:   generator.New(bankSource, bankSource, tests, s, m),
		Metrics:     m,
		Limiter:     limiter,
		DB:          s,
	})
	ts.srv = httptest.NewServer(h.Router())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(method, path, token string, body any) (int, response) {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		ts.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		ts.t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (ts *testServer) login(username, password string) string {
	ts.t.Helper()
	code, resp := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username, "password": password,
	})
	if code != http.StatusOK {
		ts.t.Fatalf("login %s: %d %+v", username, code, resp)
	}
	var tok identity.Token
	decodeData(ts.t, resp, &tok)
	return tok.AccessToken
}

func decodeData(t *testing.T, resp response, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var health map[string]string
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, health)
	}

	resp, err = http.Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	if code != http.StatusUnauthorized || resp.Error != "unauthenticated" || resp.Success {
		t.Errorf("bad password: %d %+v", code, resp)
	}
	code, resp = ts.do(http.MethodGet, "/api/auth/me", "", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("me without token: %d %+v", code, resp)
	}

	token := ts.login("alice", "alicepass")
	code, resp = ts.do(http.MethodGet, "/api/auth/me", token, nil)
	if code != http.StatusOK || resp.Message != "Profile retrieved successfully" {
		t.Fatalf("me: %d %+v", code, resp)
	}
	var me model.User
	decodeData(t, resp, &me)
	if me.ID != ts.student.ID || me.LeaveBalance != model.DefaultLeaveBalance {
		t.Errorf("me = %+v", me)
	}
	if strings.Contains(string(resp.Data), "password") {
		t.Error("password hash must not be serialized")
	}

	if code, resp := ts.do(http.MethodPost, "/api/auth/logout", token, nil); code != http.StatusOK {
		t.Fatalf("logout: %d %+v", code, resp)
	}
	if code, _ := ts.do(http.MethodGet, "/api/auth/me", token, nil); code != http.StatusUnauthorized {
		t.Errorf("token must be revoked after logout, got %d", code)
	}
}

func TestAdminUsers(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.login("admin", "adminpass")
	student := ts.login("alice", "alicepass")

	if code, resp := ts.do(http.MethodGet, "/api/admin/users", student, nil); code != http.StatusForbidden || resp.Error != "forbidden" {
		t.Errorf("student listing users: %d %+v", code, resp)
	}

	code, resp := ts.do(http.MethodPost, "/api/admin/users", admin, map[string]any{
		"username": "bob", "password": "bobpass", "leave_balance": 5,
	})
	if code != http.StatusCreated {
		t.Fatalf("create user: %d %+v", code, resp)
	}
	var bob model.User
	decodeData(t, resp, &bob)
	if bob.Role != model.UserRoleStudent || bob.LeaveBalance != 5 || !bob.Active {
		t.Errorf("created user = %+v", bob)
	}

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"short password", map[string]any{"username": "carol", "password": "123"}, "password must be at least 6"},
		{"bad role", map[string]any{"username": "carol", "password": "secret1", "role": "dean"}, "role must be one of"},
		{"duplicate", map[string]any{"username": "bob", "password": "secret1"}, "already taken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := ts.do(http.MethodPost, "/api/admin/users", admin, tt.body)
			if code < 400 || !strings.Contains(resp.Message, tt.want) {
				t.Errorf("got %d %+v, want message containing %q", code, resp, tt.want)
			}
		})
	}

	code, resp = ts.do(http.MethodPost, "/api/admin/users/"+bob.ID+"/toggle", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("toggle: %d %+v", code, resp)
	}
	if code, _ := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "bob", "password": "bobpass"}); code != http.StatusUnauthorized {
		t.Errorf("inactive user login: %d", code)
	}
	if code, resp := ts.do(http.MethodPost, "/api/admin/users/"+ts.admin.ID+"/toggle", admin, nil); code != http.StatusConflict {
		t.Errorf("self toggle: %d %+v", code, resp)
	}
}

func TestLeaveToResultFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.login("admin", "adminpass")
	student := ts.login("alice", "alicepass")

	start := model.Day(time.Now()).AddDate(0, 0, 7)
	code, resp := ts.do(http.MethodPost, "/api/leaves", student, map[string]string{
		"start_date": start.Format(model.DateLayout),
		"end_date":   start.AddDate(0, 0, 2).Format(model.DateLayout),
		"reason":     "visiting my grandparents abroad",
		"leave_type": "personal",
	})
	if code != http.StatusCreated {
		t.Fatalf("apply: %d %+v", code, resp)
	}
	var l model.Leave
	decodeData(t, resp, &l)
	if l.Status != model.LeaveStatusPending || l.TotalDays != 3 {
		t.Fatalf("applied leave = %+v", l)
	}

	if code, resp := ts.do(http.MethodPost, "/api/tests/generate", admin, map[string]any{}); code != http.StatusBadRequest || resp.Message != "leave_id is required" {
		t.Errorf("generate without fields: %d %+v", code, resp)
	}
	code, resp = ts.do(http.MethodGet, "/api/tests/question-count?subject=Networks&difficulty=easy", admin, nil)
	if code != http.StatusOK || resp.Message != "4 questions available." {
		t.Errorf("question count: %d %+v", code, resp)
	}

	code, resp = ts.do(http.MethodPost, "/api/tests/generate", admin, map[string]any{
		"leave_id":            l.ID,
		"subject":             "Networks",
		"difficulty":          "easy",
		"number_of_questions": 4,
		"total_marks":         8,
	})
	if code != http.StatusCreated {
		t.Fatalf("generate: %d %+v", code, resp)
	}
	var test model.Test
	decodeData(t, resp, &test)
	if test.PassMarks != 5 || test.TotalMarks != 8 {
		t.Errorf("generated test = %+v", test)
	}

	code, resp = ts.do(http.MethodGet, "/api/tests/leave/"+l.ID, student, nil)
	if code != http.StatusOK {
		t.Fatalf("test by leave: %d %+v", code, resp)
	}
	if strings.Contains(string(resp.Data), "correct_answer") {
		t.Error("student must not see answer keys before submitting")
	}

	var answers []map[string]any
	for i := 0; i < 4; i++ {
		answers = append(answers, map[string]any{"question_index": i, "selected_answer": 1})
	}
	code, resp = ts.do(http.MethodPost, "/api/tests/"+test.ID+"/submit", student, map[string]any{
		"mcq_answers": answers, "time_taken": 300, "tab_switch_count": 1,
	})
	if code != http.StatusCreated {
		t.Fatalf("submit: %d %+v", code, resp)
	}
	if !strings.Contains(resp.Message, "passed") {
		t.Errorf("submit message = %q", resp.Message)
	}
	var out struct {
		Result      model.TestResult  `json:"test_result"`
		LeaveStatus model.LeaveStatus `json:"leave_status"`
	}
	decodeData(t, resp, &out)
	if out.LeaveStatus != model.LeaveStatusApproved || out.Result.TotalScore != 8 || out.Result.TabSwitchCount != 1 {
		t.Errorf("submit outcome = %+v", out)
	}

	if code, resp := ts.do(http.MethodPost, "/api/tests/"+test.ID+"/submit", student, map[string]any{}); code != http.StatusConflict || resp.Error != "conflict" {
		t.Errorf("second submit: %d %+v", code, resp)
	}

	code, resp = ts.do(http.MethodGet, "/api/tests/"+test.ID, student, nil)
	if code != http.StatusOK || !strings.Contains(string(resp.Data), "correct_answer") {
		t.Errorf("answer keys should be visible after submitting: %d", code)
	}

	code, resp = ts.do(http.MethodGet, "/api/results/student/"+ts.student.ID, admin, nil)
	if code != http.StatusOK {
		t.Fatalf("results by student: %d %+v", code, resp)
	}
	var sr evaluation.StudentResults
	decodeData(t, resp, &sr)
	if sr.Statistics.TotalTests != 1 || sr.Statistics.PassedTests != 1 {
		t.Errorf("student stats = %+v", sr.Statistics)
	}

	code, resp = ts.do(http.MethodGet, "/api/results/statistics", student, nil)
	var stats model.StudentStatistics
	decodeData(t, resp, &stats)
	if code != http.StatusOK || stats.PassRate != 100 || stats.CompletionRate != 100 {
		t.Errorf("statistics: %d %+v", code, stats)
	}

	u, _ := ts.store.GetUserByID(context.Background(), ts.student.ID)
	if u.LeaveBalance != model.DefaultLeaveBalance-3 {
		t.Errorf("leave balance = %d", u.LeaveBalance)
	}
	if evs := ts.events.Events(); len(evs) != 1 || evs[0].Status != model.LeaveStatusApproved {
		t.Errorf("events = %+v", evs)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.login("admin", "adminpass")
	student := ts.login("alice", "alicepass")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   string
	}{
		{"malformed json", http.MethodPost, "/api/leaves", student, "{", http.StatusBadRequest, "validation_error"},
		{"missing leave", http.MethodGet, "/api/leaves/nope", admin, nil, http.StatusNotFound, "not_found"},
		{"admin applies", http.MethodPost, "/api/leaves", admin, map[string]string{
			"start_date": "2099-01-01", "end_date": "2099-01-02", "reason": "conference trip abroad",
		}, http.StatusForbidden, "forbidden"},
		{"bad filter date", http.MethodGet, "/api/leaves?from=yesterday", admin, nil, http.StatusBadRequest, "validation_error"},
		{"student lists all", http.MethodGet, "/api/results", student, nil, http.StatusForbidden, "forbidden"},
		{"too many days", http.MethodPost, "/api/leaves", student, map[string]string{
			"start_date": "2099-01-01", "end_date": "2099-02-15", "reason": "a very long trip around the world",
		}, http.StatusBadRequest, "insufficient_balance"},
		{"reject without remarks", http.MethodPost, "/api/leaves/nope/reject", admin, map[string]string{}, http.StatusBadRequest, "validation_error"},
		{"missing result", http.MethodGet, "/api/tests/nope/result", student, nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := ts.do(tt.method, tt.path, tt.token, tt.body)
			if code != tt.status || resp.Error != tt.kind || resp.Success {
				t.Errorf("got %d %+v, want %d %s", code, resp, tt.status, tt.kind)
			}
			if resp.Message == "" {
				t.Error("error responses carry a message")
			}
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	ts := newTestServer(t, ratelimit.NewTokenBucket(2, 1))
	for i := 0; i < 2; i++ {
		ts.login("alice", "alicepass")
	}
	code, resp := ts.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "alicepass"})
	if code != http.StatusTooManyRequests || resp.Error != "too_many_requests" {
		t.Errorf("third login: %d %+v", code, resp)
	}
}
