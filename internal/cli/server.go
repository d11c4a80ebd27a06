package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"training-portal/internal/app"
	"training-portal/internal/config"
	"training-portal/internal/infra/memory"
	"training-portal/internal/infra/postgres"
	rediscache "training-portal/internal/infra/redis"
	"training-portal/internal/metrics"
	transport "training-portal/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the training portal API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// documentStore is the persistence surface the services need. Both the in-memory
// and the Postgres store satisfy it.
type documentStore interface {
	app.UserRepository
	app.CourseRepository
	app.AttemptRepository
	app.ProgressRepository
	app.AuditLogRepository
	app.NoteRepository
	memory.QuizLoader
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store documentStore
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
		log.Info("using postgres store")
	} else {
		mem := memory.NewStore()
		cat, err := seedMemory(mem, cfg)
		if err != nil {
			return err
		}
		store = mem
		log.Info("using in-memory store",
			zap.String("catalog", cfg.Catalog.Path),
			zap.Int("courses", len(cat.Courses)),
			zap.Int("quizzes", len(cat.Quizzes)),
		)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 45*time.Minute)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var (
		quizRepo app.QuizRepository
		sessions app.SessionRepository
		revoked  app.RevocationStore
	)
	if redisClient != nil {
		quizRepo = rediscache.NewQuizRepository(redisClient, store, quizTTL)
		sessions = rediscache.NewSessionStore(redisClient, redisTTL)
		revoked = rediscache.NewRevocationStore(redisClient)
	} else {
		quizRepo = memory.NewQuizRepository(store, quizTTL)
		sessions = memory.NewSessionStore()
		revoked = memory.NewRevocationStore()
	}

	m := metrics.New()
	services := transport.Services{
		Auth: app.NewAuthService(store, revoked, app.AuthConfig{
			Secret:     cfg.Auth.JWTSecret,
			TokenTTL:   config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour),
			Issuer:     cfg.Auth.Issuer,
			BcryptCost: cfg.Auth.BcryptCost,
		}, log.Named("auth")),
		Exams: app.NewExamService(sessions, quizRepo, store, store, app.TickerScheduler{}, app.ExamConfig{
			Duration:       config.TTLDuration(cfg.Exam.Duration, app.DefaultExamDuration),
			Tick:           config.TTLDuration(cfg.Exam.Tick, time.Second),
			PersistTimeout: config.TTLDuration(cfg.Exam.PersistTimeout, 10*time.Second),
		}, log.Named("exam"), m),
		Progress:  app.NewProgressService(store, store, store, store, store, log.Named("progress"), m),
		Dashboard: app.NewDashboardService(store, store, log.Named("dashboard")),
	}
	handler := transport.NewHandler(services, m, log.Named("http"), transport.Options{
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   config.TTLDuration(cfg.RateLimit.Window, time.Minute),
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting training portal", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-serveErr:
		if err != nil {
			log.Error("server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
