package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Inserter is the slice of *river.Client[pgx.Tx] the ingress handler
// needs in order to enqueue a job inside its own transaction. Narrowed
// to an interface so handler tests can run against a fake instead of a
// live Postgres-backed river client.
type Inserter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueue inserts a process-post job inside tx, so the row upsert and
// the job insert share one transaction (spec §4.5's "post row created
// iff job enqueued" invariant). The job's FBPostID field carries the
// `river:"unique"` tag, so a duplicate enqueue while a job for the same
// post is pending/scheduled/available/running/retryable collapses to
// the existing job rather than creating a second one.
func Enqueue(ctx context.Context, client Inserter, tx pgx.Tx, args ProcessPostArgs) error {
	_, err := client.InsertTx(ctx, tx, args, &river.InsertOpts{
		Queue: QueueName,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStatePending,
				rivertype.JobStateAvailable,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("enqueuing process-post job: %w", err)
	}
	return nil
}
