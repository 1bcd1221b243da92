package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fb-discord-relay/relay/internal/domain"
	"github.com/fb-discord-relay/relay/internal/statemachine"
)

// GetOrCreate inserts a post row if fb_post_id hasn't been seen before,
// relying on the unique constraint to collapse concurrent inserts to a
// single winner (spec §5: "implementations rely on the unique
// constraint and catch the duplicate-key error to re-read the
// winner" — pgx's ON CONFLICT DO NOTHING does this without a visible
// error). A webhook_received PostEvent is appended every call, whether
// or not the row was newly created, so the audit trail reflects every
// signed delivery.
func (s *PostgresStore) GetOrCreate(ctx context.Context, fbPostID, correlationID string) (post *domain.Post, created bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	post, created, err = s.GetOrCreateTx(ctx, tx, fbPostID, correlationID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("committing transaction: %w", err)
	}

	return post, created, nil
}

// GetOrCreateTx is GetOrCreate run against a caller-managed transaction
// instead of one scoped to the call. The ingress handler uses this so
// the row upsert and the job enqueue (internal/queue.Enqueue) share one
// transaction, per spec §4.5: the "post row created iff job enqueued"
// invariant is achieved by one commit, not a dual-write across two
// connections. The caller owns Begin/Commit/Rollback.
func (s *PostgresStore) GetOrCreateTx(ctx context.Context, tx pgx.Tx, fbPostID, correlationID string) (post *domain.Post, created bool, err error) {
	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO posts (fb_post_id, status, received_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (fb_post_id) DO NOTHING
		RETURNING fb_post_id
	`, fbPostID, domain.StatusReceived).Scan(&id)

	switch {
	case err == nil:
		created = true
	case err == pgx.ErrNoRows:
		created = false
	default:
		return nil, false, fmt.Errorf("inserting post: %w", err)
	}

	details, _ := json.Marshal(map[string]any{"correlation_id": correlationID})
	_, err = tx.Exec(ctx, `
		INSERT INTO post_events (fb_post_id, event, details, created_at)
		VALUES ($1, $2, $3, NOW())
	`, fbPostID, domain.EventWebhookReceived, details)
	if err != nil {
		return nil, false, fmt.Errorf("inserting webhook_received event: %w", err)
	}

	p, err := scanPost(tx.QueryRow(ctx, postColumns+" FROM posts WHERE fb_post_id = $1", fbPostID))
	if err != nil {
		return nil, false, fmt.Errorf("reading post: %w", err)
	}

	return p, created, nil
}

// TransitionFields carries the row fields a transition may set alongside
// the status column. Only non-nil fields are written.
type TransitionFields struct {
	LastError    *string
	DiscordMsgID *string
	DeliveredAt  *time.Time
}

// ApplyTransition atomically moves a post from its current status to
// target, iff that edge is listed in the statemachine table, updating
// any caller-supplied fields and appending a status_<target> PostEvent.
// An illegal edge is a no-op: it makes no change, appends no event,
// logs nothing, and returns ok=false.
func (s *PostgresStore) ApplyTransition(ctx context.Context, fbPostID string, target domain.Status, fields TransitionFields, details map[string]any) (ok bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM posts WHERE fb_post_id = $1 FOR UPDATE`, fbPostID).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("locking post: %w", err)
	}

	if !statemachine.IsAllowed(current, target) {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE posts SET
			status = $2,
			last_error = COALESCE($3, last_error),
			discord_msg_id = COALESCE($4, discord_msg_id),
			delivered_at = COALESCE($5, delivered_at)
		WHERE fb_post_id = $1
	`, fbPostID, target, fields.LastError, fields.DiscordMsgID, fields.DeliveredAt)
	if err != nil {
		return false, fmt.Errorf("updating post status: %w", err)
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return false, fmt.Errorf("marshaling event details: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO post_events (fb_post_id, event, details, created_at)
		VALUES ($1, $2, $3, NOW())
	`, fbPostID, domain.StatusEventName(target), detailsJSON)
	if err != nil {
		return false, fmt.Errorf("inserting transition event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	return true, nil
}

// MarkForRetry records an automatic-retry re-entry into `received`. It
// is a distinct primitive from ApplyTransition (per spec §4.6/§9):
// its only invariant is refusing to act on a delivered row, rather than
// following the named-edge table, because it is reached from both the
// fetch leg (fetching) and the dispatch leg (sending), and increments
// retry_count and records a `marked_for_retry` event instead of a
// `status_received` one.
func (s *PostgresStore) MarkForRetry(ctx context.Context, fbPostID, errMsg string) (ok bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM posts WHERE fb_post_id = $1 FOR UPDATE`, fbPostID).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("locking post: %w", err)
	}

	if current == domain.StatusDelivered {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE posts SET
			status = $2,
			retry_count = retry_count + 1,
			last_error = $3
		WHERE fb_post_id = $1
	`, fbPostID, domain.StatusReceived, errMsg)
	if err != nil {
		return false, fmt.Errorf("updating post for retry: %w", err)
	}

	details, _ := json.Marshal(map[string]any{"error": errMsg})
	_, err = tx.Exec(ctx, `
		INSERT INTO post_events (fb_post_id, event, details, created_at)
		VALUES ($1, $2, $3, NOW())
	`, fbPostID, domain.EventMarkedForRetry, details)
	if err != nil {
		return false, fmt.Errorf("inserting marked_for_retry event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	return true, nil
}

// UpdateFetchedFields writes the upstream-sourced content fields onto a
// post without touching status — spec §4.6 step 5 is explicit that
// this is a data-only write, not a transition.
func (s *PostgresStore) UpdateFetchedFields(ctx context.Context, fbPostID string, authorID, authorName, message, permalink *string, postCreatedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE posts SET
			author_id = $2,
			author_name = $3,
			message = $4,
			permalink = $5,
			post_created_at = $6
		WHERE fb_post_id = $1
	`, fbPostID, authorID, authorName, message, permalink, postCreatedAt)
	if err != nil {
		return fmt.Errorf("updating fetched fields: %w", err)
	}
	return nil
}

const postColumns = `SELECT fb_post_id, status, author_id, author_name, message, permalink, post_created_at, received_at, discord_msg_id, delivered_at, retry_count, last_error`

func scanPost(row pgx.Row) (*domain.Post, error) {
	var p domain.Post
	err := row.Scan(
		&p.FBPostID, &p.Status, &p.AuthorID, &p.AuthorName, &p.Message, &p.Permalink,
		&p.PostCreatedAt, &p.ReceivedAt, &p.DiscordMsgID, &p.DeliveredAt, &p.RetryCount, &p.LastError,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPost returns a single post by its upstream identifier, or nil if absent.
func (s *PostgresStore) GetPost(ctx context.Context, fbPostID string) (*domain.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, postColumns+" FROM posts WHERE fb_post_id = $1", fbPostID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying post: %w", err)
	}
	return p, nil
}

// ListPosts returns posts, optionally filtered by status, newest first.
func (s *PostgresStore) ListPosts(ctx context.Context, status string, limit int) ([]domain.Post, error) {
	query := postColumns + " FROM posts"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY received_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning post: %w", err)
		}
		posts = append(posts, *p)
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	return posts, nil
}

// ListEvents returns the audit trail for one post, oldest first.
func (s *PostgresStore) ListEvents(ctx context.Context, fbPostID string) ([]domain.PostEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, fb_post_id, event, details, created_at
		FROM post_events WHERE fb_post_id = $1
		ORDER BY created_at ASC
	`, fbPostID)
	if err != nil {
		return nil, fmt.Errorf("querying post events: %w", err)
	}
	defer rows.Close()

	var events []domain.PostEvent
	for rows.Next() {
		var e domain.PostEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.FBPostID, &e.Event, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning post event: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		events = append(events, e)
	}
	if events == nil {
		events = []domain.PostEvent{}
	}
	return events, nil
}

// PruneTerminal deletes posts (and their events/delivery logs, via
// cascade) that have sat in a terminal state since before cutoff. This
// is the §3 maintenance lifecycle rule, exposed via the relayctl CLI.
// Delivered posts are aged by delivered_at, ignored posts by their
// latest status_ignored event, falling back to received_at.
func (s *PostgresStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM posts
		WHERE status IN ($1, $2)
		  AND COALESCE(
		      delivered_at,
		      (SELECT MAX(e.created_at) FROM post_events e
		       WHERE e.fb_post_id = posts.fb_post_id AND e.event = $4),
		      received_at
		  ) < $3
	`, domain.StatusDelivered, domain.StatusIgnored, cutoff, domain.StatusEventName(domain.StatusIgnored))
	if err != nil {
		return 0, fmt.Errorf("pruning terminal posts: %w", err)
	}
	return tag.RowsAffected(), nil
}
