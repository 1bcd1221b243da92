package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// RunMigrations applies river's own schema (river_job and the tables
// backing its leader election, singleton-key, and archive bookkeeping)
// using river's migration tool. This is separate from the application
// schema internal/store owns (posts, post_events, delivery_logs) — the
// two are applied independently but share the same Postgres pool so
// the queue and the post store compose into one transactional domain.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("building river migrator: %w", err)
	}

	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("applying river migrations: %w", err)
	}

	return nil
}
