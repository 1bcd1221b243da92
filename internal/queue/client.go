package queue

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

const QueueName = "process-post"

// NewClient wires a river.Client sharing pool's connection, with worker
// registered only when w is non-nil — the ingress process enqueues jobs
// but never claims them, so it starts a client with no workers.
func NewClient(pool *pgxpool.Pool, w *Worker, maxWorkers int) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	if w != nil {
		river.AddWorker(workers, w)
	}

	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueName: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
}
