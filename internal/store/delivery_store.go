package store

import (
	"context"
	"fmt"

	"github.com/fb-discord-relay/relay/internal/domain"
)

// RecordDeliveryLog appends one dispatch-attempt row. It is independent
// of ApplyTransition: a single sink attempt produces exactly one
// DeliveryLog row regardless of whether the resulting outcome changes
// the post's status (an ambiguous/timeout outcome, for instance, still
// gets logged even though the post is routed to needs_review).
func (s *PostgresStore) RecordDeliveryLog(ctx context.Context, fbPostID string, success bool, discordMsgID, errMessage *string, latencyMs int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_logs (fb_post_id, success, discord_msg_id, error_message, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, fbPostID, success, discordMsgID, errMessage, latencyMs)
	if err != nil {
		return fmt.Errorf("inserting delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs returns the dispatch history for one post, newest first.
func (s *PostgresStore) ListDeliveryLogs(ctx context.Context, fbPostID string) ([]domain.DeliveryLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, fb_post_id, success, discord_msg_id, error_message, latency_ms, created_at
		FROM delivery_logs WHERE fb_post_id = $1
		ORDER BY created_at DESC
	`, fbPostID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.DeliveryLog
	for rows.Next() {
		var l domain.DeliveryLog
		if err := rows.Scan(&l.ID, &l.FBPostID, &l.Success, &l.DiscordMsgID, &l.ErrorMessage, &l.LatencyMs, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery log: %w", err)
		}
		logs = append(logs, l)
	}
	if logs == nil {
		logs = []domain.DeliveryLog{}
	}
	return logs, nil
}

// ListRecentDeliveryLogs returns the most recent dispatch attempts
// across all posts, for the operator dashboard's activity feed.
func (s *PostgresStore) ListRecentDeliveryLogs(ctx context.Context, limit int) ([]domain.DeliveryLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, fb_post_id, success, discord_msg_id, error_message, latency_ms, created_at
		FROM delivery_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.DeliveryLog
	for rows.Next() {
		var l domain.DeliveryLog
		if err := rows.Scan(&l.ID, &l.FBPostID, &l.Success, &l.DiscordMsgID, &l.ErrorMessage, &l.LatencyMs, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery log: %w", err)
		}
		logs = append(logs, l)
	}
	if logs == nil {
		logs = []domain.DeliveryLog{}
	}
	return logs, nil
}
