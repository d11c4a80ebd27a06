package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"training-portal/internal/domain"
	pgmigrations "training-portal/internal/infra/postgres/migrations"
)

type courseRow struct {
	bun.BaseModel `bun:"table:courses"`

	ID       string                `bun:"id,pk"`
	Position int                   `bun:"position"`
	Data     domain.CourseDocument `bun:"data,type:jsonb"`
}

type quizRow struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID       string              `bun:"id,pk"`
	CourseID string              `bun:"course_id"`
	Data     domain.QuizDocument `bun:"data,type:jsonb"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID        string              `bun:"id,pk"`
	Email     string              `bun:"email"`
	Data      domain.UserDocument `bun:"data,type:jsonb"`
	CreatedAt time.Time           `bun:"created_at"`
}

// OpenBun opens a bun handle for migrations and seeding.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Migrate applies every pending schema migration.
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return group, nil
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Courses int
	Quizzes int
	Users   int
}

// Seed upserts courses and quizzes and inserts users that do not exist yet, all in
// one transaction. Existing users, including their progress, are left untouched.
func Seed(ctx context.Context, db *bun.DB, courses []domain.Course, quizzes []domain.Quiz, users []domain.User) (SeedResult, error) {
	var res SeedResult
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, c := range courses {
			row := &courseRow{ID: c.ID, Position: i, Data: domain.CourseToDocument(c)}
			if _, err := tx.NewInsert().Model(row).
				On("CONFLICT (id) DO UPDATE").
				Set("position = EXCLUDED.position").
				Set("data = EXCLUDED.data").
				Exec(ctx); err != nil {
				return fmt.Errorf("seed course %s: %w", c.ID, err)
			}
			res.Courses++
		}
		for _, q := range quizzes {
			row := &quizRow{ID: q.ID, CourseID: q.CourseID, Data: domain.QuizToDocument(q)}
			if _, err := tx.NewInsert().Model(row).
				On("CONFLICT (id) DO UPDATE").
				Set("course_id = EXCLUDED.course_id").
				Set("data = EXCLUDED.data").
				Exec(ctx); err != nil {
				return fmt.Errorf("seed quiz %s: %w", q.ID, err)
			}
			res.Quizzes++
		}
		for _, u := range users {
			u.Email = strings.ToLower(u.Email)
			row := &userRow{ID: u.ID, Email: u.Email, Data: domain.UserToDocument(u), CreatedAt: u.CreatedAt}
			result, err := tx.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx)
			if err != nil {
				return fmt.Errorf("seed user %s: %w", u.Email, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				res.Users++
			}
		}
		return nil
	})
	return res, err
}
