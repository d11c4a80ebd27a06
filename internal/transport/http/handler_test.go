package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"training-portal/internal/app"
	"training-portal/internal/domain"
	"training-portal/internal/infra/memory"
	"training-portal/internal/metrics"
)

const adminPassword = "admin-secret"

type portalFixture struct {
	store  *memory.Store
	server *httptest.Server
	auth   *app.AuthService
}

func newPortalFixture(t *testing.T, opts Options) *portalFixture {
	t.Helper()
	store := memory.NewStore()
	store.PutCourse(domain.Course{
		ID:    "sec",
		Title: "Security Awareness",
		Lessons: []domain.Lesson{
			{ID: "l1", Title: "Phishing", Order: 1},
			{ID: "l2", Title: "Passwords", Order: 2},
		},
		Status: domain.DefaultCourseStatus,
	})
	store.PutQuiz(domain.Quiz{
		ID:           "quiz-sec",
		CourseID:     "sec",
		CourseTitle:  "Security Awareness",
		PassingScore: 70,
		TotalPoints:  100,
		Questions: []domain.Question{
			{Question: "Report phishing to?", Options: []string{"a", "b", "c"}, CorrectAnswer: "b", Points: 50},
			{Question: "Strong password?", Options: []string{"a", "b", "c"}, CorrectAnswer: "b", Points: 50},
		},
	})
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store.PutUser(domain.User{
		ID:           "admin-1",
		FirstName:    "Grace",
		LastName:     "Hopper",
		Email:        "admin@example.com",
		Role:         domain.RoleAdmin,
		PasswordHash: hash,
	})

	m := metrics.New()
	auth := app.NewAuthService(store, memory.NewRevocationStore(), app.AuthConfig{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	}, nil)
	exams := app.NewExamService(
		memory.NewSessionStore(),
		memory.NewQuizRepository(store, time.Minute),
		store,
		store,
		nil,
		app.ExamConfig{Duration: 5 * time.Minute, Tick: time.Hour},
		nil,
		m,
	)
	handler := NewHandler(Services{
		Auth:      auth,
		Exams:     exams,
		Progress:  app.NewProgressService(store, store, store, store, store, nil, m),
		Dashboard: app.NewDashboardService(store, store, nil),
	}, m, nil, opts)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return &portalFixture{store: store, server: server, auth: auth}
}

func (f *portalFixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (f *portalFixture) signup(t *testing.T, email string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"email":      email,
		"password":   "correct-horse",
		"firstName":  "Ada",
		"lastName":   "Lovelace",
		"department": "Engineering",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status %d: %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected token in %v", body)
	}
	return token
}

func (f *portalFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/login", "", map[string]any{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %v", resp.StatusCode, body)
	}
	return body["token"].(string)
}

func (f *portalFixture) list(t *testing.T, path, token string) []map[string]any {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s status %d", path, resp.StatusCode)
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestSignupThenDashboard(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	modules := f.list(t, "/api/modules", token)
	if len(modules) != 1 {
		t.Fatalf("expected one module, got %d", len(modules))
	}
	if modules[0]["id"] != "sec" || modules[0]["status"] != domain.StatusNotStarted {
		t.Fatalf("unexpected module card %v", modules[0])
	}

	resp, body := f.do(t, http.MethodGet, "/api/me", token, nil)
	if resp.StatusCode != http.StatusOK || body["email"] != "ada@example.com" || body["role"] != domain.RoleLearner {
		t.Fatalf("unexpected identity %d %v", resp.StatusCode, body)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	f := newPortalFixture(t, Options{})
	f.signup(t, "ada@example.com")

	resp, _ := f.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"email": "ADA@example.com", "password": "correct-horse", "firstName": "Ada",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSignupValidation(t *testing.T) {
	f := newPortalFixture(t, Options{})
	resp, body := f.do(t, http.MethodPost, "/api/signup", "", map[string]any{
		"email": "not-an-email", "password": "short", "firstName": "  ",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	fields, _ := body["fields"].(map[string]any)
	for _, name := range []string{"email", "password", "firstName"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("expected a %s field error in %v", name, fields)
		}
	}
}

func TestUnauthenticatedRedirectsToLogin(t *testing.T) {
	f := newPortalFixture(t, Options{})
	resp, body := f.do(t, http.MethodGet, "/api/modules", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["redirect"] != "/login" {
		t.Fatalf("expected 401 redirect to /login, got %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/modules", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", resp.StatusCode)
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	f := newPortalFixture(t, Options{})
	resp, _ := f.do(t, http.MethodPost, "/api/login", "", map[string]any{"email": "admin@example.com", "password": "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminRouteGuard(t *testing.T) {
	f := newPortalFixture(t, Options{})
	learner := f.signup(t, "ada@example.com")

	resp, body := f.do(t, http.MethodGet, "/api/admin/users", learner, nil)
	if resp.StatusCode != http.StatusForbidden || body["redirect"] != "/unauthorized" {
		t.Fatalf("expected 403 redirect to /unauthorized, got %d %v", resp.StatusCode, body)
	}

	admin := f.login(t, "admin@example.com", adminPassword)
	users := f.list(t, "/api/admin/users", admin)
	if len(users) != 2 {
		t.Fatalf("expected two users in overview, got %d", len(users))
	}

	f.do(t, http.MethodPost, "/api/exams/sec/start", learner, nil)
	resp, body = f.do(t, http.MethodGet, "/api/admin/exams/sec/live", admin, nil)
	live, _ := body["users"].([]any)
	if resp.StatusCode != http.StatusOK || len(live) != 1 {
		t.Fatalf("expected one live learner, got %d %v", resp.StatusCode, body)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	resp, _ := f.do(t, http.MethodPost, "/api/logout", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/modules", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", resp.StatusCode)
	}
}

func TestLessonCompletionAndNotes(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	resp, body := f.do(t, http.MethodPost, "/api/modules/sec/lessons/l1/complete", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %v", resp.StatusCode, body)
	}
	result := body["result"].(map[string]any)
	if result["changed"] != true || result["progress"].(float64) != 50 || result["persisted"] != true || result["auditLogged"] != true {
		t.Fatalf("unexpected completion %v", result)
	}

	_, body = f.do(t, http.MethodPost, "/api/modules/sec/lessons/l1/complete", token, nil)
	if body["result"].(map[string]any)["changed"] != false {
		t.Fatalf("expected repeat completion to be a no-op, got %v", body["result"])
	}
	if n := len(f.store.AuditLogs()); n != 1 {
		t.Fatalf("expected one audit record, got %d", n)
	}

	resp, body = f.do(t, http.MethodPut, "/api/modules/sec/lessons/l2/note", token, map[string]any{"content": "use a manager"})
	if resp.StatusCode != http.StatusOK || body["saved"] != true {
		t.Fatalf("unexpected note response %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/modules/sec?lesson=l2", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get module status %d", resp.StatusCode)
	}
	if body["currentLessonIndex"].(float64) != 1 || body["progress"].(float64) != 50 {
		t.Fatalf("unexpected module view %v", body)
	}
	if notes := body["notes"].(map[string]any); notes["l2"] != "use a manager" {
		t.Fatalf("expected saved note in view, got %v", notes)
	}
}

func TestModuleNotFoundRedirectsHome(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	resp, body := f.do(t, http.MethodGet, "/api/modules/missing", token, nil)
	if resp.StatusCode != http.StatusNotFound || body["redirect"] != "/" {
		t.Fatalf("expected 404 redirect home, got %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/modules/sec/lessons/nope/complete", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown lesson, got %d", resp.StatusCode)
	}
}

func TestExamFlowOverREST(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	resp, body := f.do(t, http.MethodPost, "/api/exams/sec/start", token, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != string(app.StateInProgress) {
		t.Fatalf("unexpected start %d %v", resp.StatusCode, body)
	}
	if body["timeDisplay"] != "5:00" {
		t.Fatalf("expected full countdown, got %v", body["timeDisplay"])
	}

	resp, body = f.do(t, http.MethodPost, "/api/exams/sec/jump", token, map[string]any{"index": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("jump status %d", resp.StatusCode)
	}
	resp, body = f.do(t, http.MethodPost, "/api/exams/sec/submit", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for incomplete answers, got %d %v", resp.StatusCode, body)
	}

	for i := 0; i < 2; i++ {
		resp, body = f.do(t, http.MethodPost, "/api/exams/sec/answers", token, map[string]any{"questionIndex": i, "answer": "b"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("answer %d status %d: %v", i, resp.StatusCode, body)
		}
	}
	resp, _ = f.do(t, http.MethodPost, "/api/exams/sec/answers", token, map[string]any{"questionIndex": 0, "answer": "z"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an unknown option, got %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/api/exams/sec/submit", token, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != string(app.StateConfirmingSubmit) {
		t.Fatalf("unexpected submit %d %v", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPost, "/api/exams/sec/confirm", token, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != string(app.StatePassed) {
		t.Fatalf("unexpected confirm %d %v", resp.StatusCode, body)
	}
	result := body["result"].(map[string]any)
	if result["score"].(float64) != 100 || result["persisted"] != true {
		t.Fatalf("unexpected result %v", result)
	}

	resp, body = f.do(t, http.MethodGet, "/api/exams/sec/certificate", token, nil)
	if resp.StatusCode != http.StatusOK || body["learnerName"] != "Ada Lovelace" || body["quizTitle"] != "Security Awareness Quiz" {
		t.Fatalf("unexpected certificate %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodDelete, "/api/exams/sec", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on close, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/exams/sec", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected closed session to be gone, got %d", resp.StatusCode)
	}
}

func TestExamWithoutQuizRedirectsHome(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")

	resp, body := f.do(t, http.MethodPost, "/api/exams/unknown/start", token, nil)
	if resp.StatusCode != http.StatusNotFound || body["redirect"] != "/" {
		t.Fatalf("expected 404 redirect home, got %d %v", resp.StatusCode, body)
	}
}

func TestCertificateRequiresPass(t *testing.T) {
	f := newPortalFixture(t, Options{})
	token := f.signup(t, "ada@example.com")
	f.do(t, http.MethodPost, "/api/exams/sec/start", token, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/exams/sec/certificate", token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newPortalFixture(t, Options{RateLimitRequests: 2, RateLimitWindow: time.Minute})
	creds := map[string]any{"email": "admin@example.com", "password": "wrong"}

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/login", "", creds)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	resp, body := f.do(t, http.MethodPost, "/api/login", "", creds)
	if resp.StatusCode != http.StatusTooManyRequests || body["retry"] != true {
		t.Fatalf("expected 429, got %d %v", resp.StatusCode, body)
	}
}

func TestUnknownRouteAndHealth(t *testing.T) {
	f := newPortalFixture(t, Options{})
	resp, body := f.do(t, http.MethodGet, "/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound || body["redirect"] != "/" {
		t.Fatalf("expected JSON 404, got %d %v", resp.StatusCode, body)
	}

	res, err := http.Get(f.server.URL + "/healthz")
	if err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v", err)
	}
	res.Body.Close()

	f.list(t, "/api/modules", f.signup(t, "ada@example.com"))
	res, err = http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	if !bytes.Contains(buf.Bytes(), []byte("/api/modules")) {
		t.Fatalf("expected request metrics labelled by route")
	}
}
