package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"training-portal/internal/app"
	"training-portal/internal/domain"
	"training-portal/internal/metrics"
)

// Services groups the use cases exposed over HTTP.
type Services struct {
	Auth      *app.AuthService
	Exams     *app.ExamService
	Progress  *app.ProgressService
	Dashboard *app.DashboardService
}

// Options tunes the HTTP surface.
type Options struct {
	// RateLimitRequests per RateLimitWindow are allowed per client IP on login and signup.
	// Zero disables the limit.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// AllowedOrigins restricts websocket upgrades. Empty allows every origin.
	AllowedOrigins []string
}

// Handler serves the portal API.
type Handler struct {
	auth      *app.AuthService
	exams     *app.ExamService
	progress  *app.ProgressService
	dashboard *app.DashboardService
	metrics   *metrics.Metrics
	log       *zap.Logger
	validate  *requestValidator
	limiter   *ipLimiter
	upgrader  websocket.Upgrader
}

func NewHandler(svc Services, m *metrics.Metrics, log *zap.Logger, opts Options) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		auth:      svc.Auth,
		exams:     svc.Exams,
		progress:  svc.Progress,
		dashboard: svc.Dashboard,
		metrics:   m,
		log:       log,
		validate:  newRequestValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
	if opts.RateLimitRequests > 0 {
		window := opts.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h.limiter = newIPLimiter(opts.RateLimitRequests, window)
	}
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.instrument(pattern, fn))
	}
	learner := func(fn http.HandlerFunc) http.HandlerFunc { return h.requireAuth("", fn) }
	admin := func(fn http.HandlerFunc) http.HandlerFunc { return h.requireAuth(domain.RoleAdmin, fn) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", h.metrics.Handler())

	handle("POST /api/login", h.rateLimited(h.login))
	handle("POST /api/signup", h.rateLimited(h.signup))
	handle("GET /api/unauthorized", h.unauthorized)
	handle("POST /api/logout", learner(h.logout))
	handle("GET /api/me", learner(h.me))

	handle("GET /api/modules", learner(h.listModules))
	handle("GET /api/modules/{moduleId}", learner(h.getModule))
	handle("POST /api/modules/{moduleId}/lessons/{lessonId}/complete", learner(h.completeLesson))
	handle("PUT /api/modules/{moduleId}/lessons/{lessonId}/note", learner(h.saveNote))

	handle("POST /api/exams/{moduleId}/start", learner(h.startExam))
	handle("GET /api/exams/{moduleId}", learner(h.getExam))
	handle("DELETE /api/exams/{moduleId}", learner(h.closeExam))
	handle("POST /api/exams/{moduleId}/answers", learner(h.answer))
	handle("POST /api/exams/{moduleId}/previous", learner(h.previous))
	handle("POST /api/exams/{moduleId}/next", learner(h.next))
	handle("POST /api/exams/{moduleId}/jump", learner(h.jump))
	handle("POST /api/exams/{moduleId}/submit", learner(h.requestSubmit))
	handle("POST /api/exams/{moduleId}/confirm", learner(h.confirmSubmit))
	handle("POST /api/exams/{moduleId}/cancel", learner(h.cancelSubmit))
	handle("POST /api/exams/{moduleId}/retry", learner(h.retry))
	handle("GET /api/exams/{moduleId}/certificate", learner(h.certificate))
	handle("GET /api/exams/{moduleId}/ws", learner(h.serveExamWS))

	handle("GET /api/admin/users", admin(h.listUsers))
	handle("GET /api/admin/exams/{moduleId}/live", admin(h.liveLearners))

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "page not found", Redirect: "/"})
	})
	return mux
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
