package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const webhookCols = `id, channel_id, user_id, name, profile_image_url, token, last_used_at, created_at, updated_at`

// WebhookRepository хранит токены интеграций для постинга в канал.
type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func scanWebhook(s interface{ Scan(dest ...any) error }, w *model.ChannelWebhook) error {
	return s.Scan(&w.ID, &w.ChannelID, &w.UserID, &w.Name, &w.ProfileImageURL, &w.Token,
		&w.LastUsedAt, &w.CreatedAt, &w.UpdatedAt)
}

// newToken генерирует 32 байта случайности в hex.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("webhookRepo.newToken: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (r *WebhookRepository) Create(ctx context.Context, w *model.ChannelWebhook) error {
	defer logger.DeferLogDuration("webhook.Create", time.Now())()
	token, err := newToken()
	if err != nil {
		return err
	}
	now := nowNS()
	w.Token = token
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err = r.pool.Exec(ctx,
		`INSERT INTO channel_webhook (id, channel_id, user_id, name, profile_image_url, token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.ChannelID, w.UserID, w.Name, w.ProfileImageURL, w.Token, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("webhookRepo.Create: %w", err)
	}
	return nil
}

// GetByToken возвращает вебхук и отмечает момент использования.
func (r *WebhookRepository) GetByToken(ctx context.Context, token string) (*model.ChannelWebhook, error) {
	defer logger.DeferLogDuration("webhook.GetByToken", time.Now())()
	w := &model.ChannelWebhook{}
	row := r.pool.QueryRow(ctx, `SELECT `+webhookCols+` FROM channel_webhook WHERE token = $1`, token)
	if err := scanWebhook(row, w); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webhookRepo.GetByToken: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE channel_webhook SET last_used_at = $1 WHERE id = $2`, nowNS(), w.ID,
	); err != nil {
		return nil, fmt.Errorf("webhookRepo.GetByToken touch: %w", err)
	}
	return w, nil
}

func (r *WebhookRepository) ListByChannel(ctx context.Context, channelID string) ([]model.ChannelWebhook, error) {
	defer logger.DeferLogDuration("webhook.ListByChannel", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+webhookCols+` FROM channel_webhook WHERE channel_id = $1 ORDER BY created_at`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("webhookRepo.ListByChannel query: %w", err)
	}
	defer rows.Close()

	hooks := make([]model.ChannelWebhook, 0, 4)
	for rows.Next() {
		var w model.ChannelWebhook
		if err := scanWebhook(rows, &w); err != nil {
			return nil, fmt.Errorf("webhookRepo.ListByChannel scan: %w", err)
		}
		hooks = append(hooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("webhookRepo.ListByChannel rows: %w", err)
	}
	return hooks, nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("webhook.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM channel_webhook WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("webhookRepo.Delete: %w", err)
	}
	return nil
}
