package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"training-portal/internal/catalog"
	"training-portal/internal/config"
	"training-portal/internal/infra/memory"
	"training-portal/internal/infra/postgres"
	rediscache "training-portal/internal/infra/redis"
)

// NewSeedCmd loads the catalog fixture into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load courses, quizzes and admin accounts from the catalog into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if catalogPath != "" {
				cfg.Catalog.Path = catalogPath
			}
			log := newLogger(cfg)
			defer func() { _ = log.Sync() }()
			return runSeed(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog fixture (defaults to catalog.path)")
	return cmd
}

func runSeed(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	admins, err := cat.AdminUsers(cfg.Auth.BcryptCost, time.Now())
	if err != nil {
		return err
	}

	db := postgres.OpenBun(cfg.Postgres.URL)
	defer db.Close()
	if _, err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	res, err := postgres.Seed(ctx, db, cat.DomainCourses(), cat.DomainQuizzes(), admins)
	if err != nil {
		return err
	}
	log.Info("catalog seeded",
		zap.String("catalog", cfg.Catalog.Path),
		zap.Int("courses", res.Courses),
		zap.Int("quizzes", res.Quizzes),
		zap.Int("users", res.Users),
	)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		n, err := refreshQuizCache(ctx, client, cat)
		if err != nil {
			log.Warn("quiz cache not invalidated", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			return nil
		}
		log.Info("quiz cache invalidated", zap.Int("courses", n))
	}
	return nil
}

// refreshQuizCache drops the cached quiz of every seeded course so running servers
// reload it from Postgres.
func refreshQuizCache(ctx context.Context, client *redis.Client, cat catalog.Catalog) (int, error) {
	quizzes := cat.DomainQuizzes()
	ids := make([]string, 0, len(quizzes))
	for _, q := range quizzes {
		ids = append(ids, q.CourseID)
	}
	return len(ids), rediscache.NewQuizRepository(client, nil, 0).Invalidate(ctx, ids...)
}

// seedMemory fills an in-memory store from the catalog.
func seedMemory(store *memory.Store, cfg config.Config) (catalog.Catalog, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return cat, fmt.Errorf("load catalog: %w", err)
	}
	admins, err := cat.AdminUsers(cfg.Auth.BcryptCost, time.Now())
	if err != nil {
		return cat, err
	}
	for _, c := range cat.DomainCourses() {
		store.PutCourse(c)
	}
	for _, q := range cat.DomainQuizzes() {
		store.PutQuiz(q)
	}
	for _, u := range admins {
		store.PutUser(u)
	}
	return cat, nil
}
