// Package postgres provides PostgreSQL implementation of the broadcast repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements broadcast.RecipientDirectory, broadcast.SubscriptionStore
// and broadcast.HistoryRepository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var (
	_ broadcast.RecipientDirectory = (*Repository)(nil)
	_ broadcast.SubscriptionStore  = (*Repository)(nil)
	_ broadcast.HistoryRepository  = (*Repository)(nil)
)

// ListRecipients returns every recipient with its active subscription, if any.
func (r *Repository) ListRecipients(ctx context.Context) ([]domain.Recipient, error) {
	query := `
		SELECT r.id, r.last_active_at, r.is_enrolled, r.plan_type,
		       s.endpoint, s.p256dh, s.auth, s.created_at
		FROM recipients r
		LEFT JOIN push_subscriptions s ON s.recipient_id = r.id AND s.is_active
		ORDER BY r.created_at, r.id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		var (
			rec       domain.Recipient
			endpoint  pgtype.Text
			p256dh    pgtype.Text
			auth      pgtype.Text
			createdAt pgtype.Timestamptz
		)
		err := rows.Scan(
			&rec.ID,
			&rec.LastActiveAt,
			&rec.IsEnrolled,
			&rec.PlanType,
			&endpoint,
			&p256dh,
			&auth,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if endpoint.Valid {
			rec.Subscription = &domain.Subscription{
				RecipientID: rec.ID,
				Endpoint:    endpoint.String,
				Keys:        domain.SubscriptionKeys{P256dh: p256dh.String, Auth: auth.String},
				CreatedAt:   createdAt.Time,
			}
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}

	return recipients, nil
}

// GetSubscription returns the active subscription of a recipient.
func (r *Repository) GetSubscription(ctx context.Context, recipientID string) (*domain.Subscription, error) {
	query := `
		SELECT recipient_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE recipient_id = $1 AND is_active
	`
	var sub domain.Subscription
	err := r.db.QueryRow(ctx, query, recipientID).Scan(
		&sub.RecipientID,
		&sub.Endpoint,
		&sub.Keys.P256dh,
		&sub.Keys.Auth,
		&sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, broadcast.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// DeactivateSubscription marks the active subscription of a recipient inactive.
// The row is kept for audit.
func (r *Repository) DeactivateSubscription(ctx context.Context, recipientID string) error {
	query := `
		UPDATE push_subscriptions
		SET is_active = FALSE, deactivated_at = NOW()
		WHERE recipient_id = $1 AND is_active
	`
	result, err := r.db.Exec(ctx, query, recipientID)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return broadcast.ErrSubscriptionNotFound
	}
	return nil
}

// RecordBroadcast appends a broadcast to history.
func (r *Repository) RecordBroadcast(ctx context.Context, entry *domain.BroadcastLogEntry) error {
	query := `
		INSERT INTO broadcast_history (id, title, body, url, audience,
			total_recipients, sent_successfully, failed, no_subscription, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.Title,
		entry.Body,
		nullableText(entry.URL),
		entry.Audience,
		entry.Report.TotalRecipients,
		entry.Report.SentSuccessfully,
		entry.Report.Failed,
		entry.Report.NoSubscription,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record broadcast: %w", err)
	}
	return nil
}

// ListBroadcasts returns broadcast history newest first and the total entry count.
func (r *Repository) ListBroadcasts(ctx context.Context, limit, offset int) ([]domain.BroadcastLogEntry, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM broadcast_history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count broadcasts: %w", err)
	}

	query := `
		SELECT id, title, body, url, audience,
		       total_recipients, sent_successfully, failed, no_subscription, created_at
		FROM broadcast_history
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.BroadcastLogEntry, 0)
	for rows.Next() {
		var (
			entry domain.BroadcastLogEntry
			url   pgtype.Text
		)
		err := rows.Scan(
			&entry.ID,
			&entry.Title,
			&entry.Body,
			&url,
			&entry.Audience,
			&entry.Report.TotalRecipients,
			&entry.Report.SentSuccessfully,
			&entry.Report.Failed,
			&entry.Report.NoSubscription,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan broadcast: %w", err)
		}
		entry.URL = url.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate broadcasts: %w", err)
	}

	return entries, total, nil
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
