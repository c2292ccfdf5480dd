package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageCols = `id, user_id, channel_id, reply_to_id, parent_id, is_pinned, pinned_at, pinned_by,
	content, data, meta, created_at, updated_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// scanMessage сканирует строку в model.Message (порядок соответствует messageCols).
func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.UserID, &m.ChannelID, &m.ReplyToID, &m.ParentID, &m.IsPinned,
		&m.PinnedAt, &m.PinnedBy, &m.Content, &m.Data, &m.Meta, &m.CreatedAt, &m.UpdatedAt)
}

// Insert сохраняет сообщение; автор при этом идемпотентно вступает в канал
// в той же транзакции, поэтому членство видно раньше самого сообщения.
func (r *MessageRepository) Insert(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Insert", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messageRepo.Insert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := nowNS()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	if m.ChannelID != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO channel_member (id, channel_id, user_id, role, status, is_active, joined_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6, $6)
			 ON CONFLICT (channel_id, user_id) DO NOTHING`,
			uuid.New().String(), *m.ChannelID, m.UserID, model.MemberRoleMember, model.MemberStatusJoined, now,
		)
		if err != nil {
			return fmt.Errorf("messageRepo.Insert join: %w", err)
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO message (id, user_id, channel_id, reply_to_id, parent_id, content, data, meta, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.UserID, m.ChannelID, m.ReplyToID, m.ParentID, m.Content, m.Data, m.Meta, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messageRepo.Insert commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM message WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetDetail собирает сообщение с автором, цитатой (один уровень, тоже обогащённой),
// агрегированными реакциями и сводкой треда.
func (r *MessageRepository) GetDetail(ctx context.Context, id string) (*model.MessageDetail, error) {
	defer logger.DeferLogDuration("message.GetDetail", time.Now())()
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.enrich(ctx, m, true)
}

// enrich наполняет MessageDetail; withReplyTo управляет разворачиванием цитаты
// (у самой цитаты вложенная цитата уже не разворачивается).
func (r *MessageRepository) enrich(ctx context.Context, m *model.Message, withReplyTo bool) (*model.MessageDetail, error) {
	d := &model.MessageDetail{Message: *m}

	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, m.UserID)
	if err := scanUser(row, u); err == nil {
		pub := u.ToPublic()
		d.User = &pub
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("messageRepo.enrich user: %w", err)
	}

	reactions, err := r.ReactionGroups(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	d.Reactions = reactions

	count, latest, err := r.replySummary(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	d.ReplyCount = count
	d.LatestReplyAt = latest

	if withReplyTo && m.ReplyToID != nil {
		// Цитата может указывать на удалённое сообщение — тогда просто без неё
		rt, err := r.GetByID(ctx, *m.ReplyToID)
		if err == nil {
			d.ReplyTo, err = r.enrich(ctx, rt, false)
			if err != nil {
				return nil, err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return d, nil
}

func (r *MessageRepository) replySummary(ctx context.Context, id string) (int, *int64, error) {
	var count int
	var latest *int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM message WHERE parent_id = $1`, id,
	).Scan(&count, &latest)
	if err != nil {
		return 0, nil, fmt.Errorf("messageRepo.replySummary: %w", err)
	}
	return count, latest, nil
}

// ListChannel возвращает корневые сообщения канала (parent_id IS NULL),
// новые первыми, с пагинацией. Содержимое тредов не включается.
func (r *MessageRepository) ListChannel(ctx context.Context, channelID string, skip, limit int) ([]model.MessageDetail, error) {
	defer logger.DeferLogDuration("message.ListChannel", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM message
		 WHERE channel_id = $1 AND parent_id IS NULL
		 ORDER BY created_at DESC
		 OFFSET $2 LIMIT $3`,
		channelID, skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListChannel query: %w", err)
	}
	msgs, err := collectMessages(rows, "ListChannel")
	if err != nil {
		return nil, err
	}
	return r.enrichAll(ctx, msgs)
}

// ListThread возвращает ответы треда, новые первыми. Если страница неполная
// (ответов меньше limit), в конец добавляется само корневое сообщение —
// клиент отрисовывает его, дойдя до конца треда.
func (r *MessageRepository) ListThread(ctx context.Context, parentID string, skip, limit int) ([]model.MessageDetail, error) {
	defer logger.DeferLogDuration("message.ListThread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM message
		 WHERE parent_id = $1
		 ORDER BY created_at DESC
		 OFFSET $2 LIMIT $3`,
		parentID, skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListThread query: %w", err)
	}
	msgs, err := collectMessages(rows, "ListThread")
	if err != nil {
		return nil, err
	}
	if len(msgs) < limit {
		parent, err := r.GetByID(ctx, parentID)
		if err == nil {
			msgs = append(msgs, *parent)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return r.enrichAll(ctx, msgs)
}

func collectMessages(rows pgx.Rows, op string) ([]model.Message, error) {
	defer rows.Close()
	msgs := make([]model.Message, 0, 16)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("messageRepo.%s scan: %w", op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.%s rows: %w", op, err)
	}
	return msgs, nil
}

func (r *MessageRepository) enrichAll(ctx context.Context, msgs []model.Message) ([]model.MessageDetail, error) {
	out := make([]model.MessageDetail, 0, len(msgs))
	for i := range msgs {
		d, err := r.enrich(ctx, &msgs[i], true)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// UnreadCount считает корневые сообщения после lastReadAt от других авторов.
func (r *MessageRepository) UnreadCount(ctx context.Context, channelID, userID string, lastReadAt *int64) (int, error) {
	defer logger.DeferLogDuration("message.UnreadCount", time.Now())()
	var since int64
	if lastReadAt != nil {
		since = *lastReadAt
	}
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message
		 WHERE channel_id = $1 AND parent_id IS NULL AND created_at > $2 AND user_id <> $3`,
		channelID, since, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.UnreadCount: %w", err)
	}
	return n, nil
}

// AddReaction идемпотентна: существующий кортеж возвращается без изменений.
func (r *MessageRepository) AddReaction(ctx context.Context, messageID, userID, name string) (*model.MessageReaction, error) {
	defer logger.DeferLogDuration("message.AddReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reaction (id, user_id, message_id, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (message_id, user_id, name) DO NOTHING`,
		uuid.New().String(), userID, messageID, name, nowNS(),
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.AddReaction: %w", err)
	}
	re := &model.MessageReaction{}
	err = r.pool.QueryRow(ctx,
		`SELECT id, user_id, message_id, name, created_at FROM message_reaction
		 WHERE message_id = $1 AND user_id = $2 AND name = $3`,
		messageID, userID, name,
	).Scan(&re.ID, &re.UserID, &re.MessageID, &re.Name, &re.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.AddReaction select: %w", err)
	}
	return re, nil
}

// RemoveReaction удаляет точный кортеж; отсутствие кортежа — не ошибка.
func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID, name string) error {
	defer logger.DeferLogDuration("message.RemoveReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reaction WHERE message_id = $1 AND user_id = $2 AND name = $3`,
		messageID, userID, name,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.RemoveReaction: %w", err)
	}
	return nil
}

// ReactionGroups агрегирует реакции сообщения: {name, users[], count}.
// Порядок групп — по первому появлению эмодзи, семантической нагрузки не несёт.
func (r *MessageRepository) ReactionGroups(ctx context.Context, messageID string) ([]model.ReactionGroup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, user_id FROM message_reaction WHERE message_id = $1 ORDER BY created_at`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ReactionGroups query: %w", err)
	}
	defer rows.Close()

	groups := make([]model.ReactionGroup, 0, 4)
	index := make(map[string]int)
	for rows.Next() {
		var name, userID string
		if err := rows.Scan(&name, &userID); err != nil {
			return nil, fmt.Errorf("messageRepo.ReactionGroups scan: %w", err)
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, model.ReactionGroup{Name: name, Users: []string{}})
		}
		groups[i].Users = append(groups[i].Users, userID)
		groups[i].Count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ReactionGroups rows: %w", err)
	}
	return groups, nil
}

// SetPinned закрепляет сообщение (pinned_at/pinned_by) либо снимает закрепление.
func (r *MessageRepository) SetPinned(ctx context.Context, id string, pinned bool, actorID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.SetPinned", time.Now())()
	var err error
	if pinned {
		_, err = r.pool.Exec(ctx,
			`UPDATE message SET is_pinned = TRUE, pinned_at = $1, pinned_by = $2, updated_at = $1 WHERE id = $3`,
			nowNS(), actorID, id,
		)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE message SET is_pinned = FALSE, pinned_at = NULL, pinned_by = NULL, updated_at = $1 WHERE id = $2`,
			nowNS(), id,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.SetPinned: %w", err)
	}
	return r.GetByID(ctx, id)
}

// ListPinned возвращает закреплённые сообщения канала, свежезакреплённые первыми.
func (r *MessageRepository) ListPinned(ctx context.Context, channelID string, skip, limit int) ([]model.MessageDetail, error) {
	defer logger.DeferLogDuration("message.ListPinned", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM message
		 WHERE channel_id = $1 AND is_pinned
		 ORDER BY pinned_at DESC
		 OFFSET $2 LIMIT $3`,
		channelID, skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListPinned query: %w", err)
	}
	msgs, err := collectMessages(rows, "ListPinned")
	if err != nil {
		return nil, err
	}
	return r.enrichAll(ctx, msgs)
}

// Update меняет содержимое; data и meta сливаются поключево поверх существующих.
func (r *MessageRepository) Update(ctx context.Context, id string, form *model.MessageForm) (*model.Message, error) {
	defer logger.DeferLogDuration("message.Update", time.Now())()
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data := model.ShallowMerge(existing.Data, form.Data)
	meta := model.ShallowMerge(existing.Meta, form.Meta)
	_, err = r.pool.Exec(ctx,
		`UPDATE message SET content = $1, data = $2, meta = $3, updated_at = $4 WHERE id = $5`,
		form.Content, data, meta, nowNS(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Update: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Delete удаляет сообщение и его реакции одной транзакцией. Ответы треда
// не трогаются: их parent_id остаётся висячим и при чтении даёт not found.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("message.Delete", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messageRepo.Delete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM message_reaction WHERE message_id = $1`, id); err != nil {
		return fmt.Errorf("messageRepo.Delete reactions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM message WHERE id = $1`, id); err != nil {
		return fmt.Errorf("messageRepo.Delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messageRepo.Delete commit: %w", err)
	}
	return nil
}

// ListThreadAll возвращает весь тред старые-первыми (контекст для генерации ответа).
func (r *MessageRepository) ListThreadAll(ctx context.Context, parentID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListThreadAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM message
		 WHERE id = $1 OR parent_id = $1
		 ORDER BY created_at`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListThreadAll query: %w", err)
	}
	return collectMessages(rows, "ListThreadAll")
}
