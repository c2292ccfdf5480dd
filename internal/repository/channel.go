package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/channelhub/internal/access"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const channelCols = `id, user_id, type, name, description, is_private, data, meta, access_control,
	created_at, updated_at, updated_by, archived_at, archived_by, deleted_at, deleted_by`

const memberCols = `id, channel_id, user_id, role, status, is_active, is_channel_muted, is_channel_pinned,
	data, meta, invited_at, invited_by, joined_at, left_at, last_read_at, created_at, updated_at`

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

// scanChannel сканирует строку в model.Channel (порядок соответствует channelCols).
func scanChannel(s interface{ Scan(dest ...any) error }, c *model.Channel) error {
	return s.Scan(&c.ID, &c.UserID, &c.Type, &c.Name, &c.Description, &c.IsPrivate,
		&c.Data, &c.Meta, &c.AccessControl,
		&c.CreatedAt, &c.UpdatedAt, &c.UpdatedBy, &c.ArchivedAt, &c.ArchivedBy, &c.DeletedAt, &c.DeletedBy)
}

// scanMember сканирует строку в model.ChannelMember (порядок соответствует memberCols).
func scanMember(s interface{ Scan(dest ...any) error }, m *model.ChannelMember) error {
	return s.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Role, &m.Status, &m.IsActive,
		&m.IsChannelMuted, &m.IsChannelPinned, &m.Data, &m.Meta,
		&m.InvitedAt, &m.InvitedBy, &m.JoinedAt, &m.LeftAt, &m.LastReadAt, &m.CreatedAt, &m.UpdatedAt)
}

// Create создаёт канал; для group/dm участники (memberIDs) вставляются в той же
// транзакции — либо создаётся и канал, и все членства, либо ничего.
func (r *ChannelRepository) Create(ctx context.Context, c *model.Channel, memberIDs []string, invitedBy string) error {
	defer logger.DeferLogDuration("channel.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("channelRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := nowNS()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err = tx.Exec(ctx,
		`INSERT INTO channel (id, user_id, type, name, description, is_private, data, meta, access_control, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.UserID, c.Type, c.Name, c.Description, c.IsPrivate, c.Data, c.Meta, c.AccessControl, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("channelRepo.Create: %w", err)
	}
	for _, uid := range memberIDs {
		if err := insertMember(ctx, tx, c.ID, uid, invitedBy, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("channelRepo.Create commit: %w", err)
	}
	return nil
}

func insertMember(ctx context.Context, tx pgx.Tx, channelID, userID, invitedBy string, now int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO channel_member (id, channel_id, user_id, role, status, is_active, invited_at, invited_by, joined_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $6, $6, $6)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		uuid.New().String(), channelID, userID, model.MemberRoleMember, model.MemberStatusJoined, now, invitedBy,
	)
	if err != nil {
		return fmt.Errorf("channelRepo.insertMember: %w", err)
	}
	return nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.GetByID", time.Now())()
	c := &model.Channel{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+channelCols+` FROM channel WHERE id = $1 AND deleted_at IS NULL`, id)
	if err := scanChannel(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListVisible возвращает каналы, доступные пользователю: group/dm с любой строкой
// членства плюс остальные каналы, проходящие access_control-проверку на чтение.
// Результат дедуплицирован и стабильно отсортирован по id.
func (r *ChannelRepository) ListVisible(ctx context.Context, userID string, groupIDs []string) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ListVisible", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelCols+` FROM channel c
		 WHERE c.deleted_at IS NULL
		   AND (c.type IN ('group', 'dm') AND EXISTS (
		            SELECT 1 FROM channel_member m WHERE m.channel_id = c.id AND m.user_id = $1)
		        OR c.type NOT IN ('group', 'dm'))`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ListVisible query: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	channels := make([]model.Channel, 0, 16)
	for rows.Next() {
		var c model.Channel
		if err := scanChannel(rows, &c); err != nil {
			return nil, fmt.Errorf("channelRepo.ListVisible scan: %w", err)
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		if !c.Type.MembershipGated() {
			if c.UserID != userID && !access.HasAccess(userID, access.PermissionRead, c.AccessControl, groupIDs) {
				continue
			}
		}
		seen[c.ID] = struct{}{}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.ListVisible rows: %w", err)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels, nil
}

// FindDM ищет dm-канал, множество участников которого совпадает с userIDs в точности.
func (r *ChannelRepository) FindDM(ctx context.Context, userIDs []string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.FindDM", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT c.id FROM channel c
		 JOIN channel_member m ON m.channel_id = c.id
		 WHERE c.type = 'dm' AND c.deleted_at IS NULL
		 GROUP BY c.id
		 HAVING COUNT(*) = cardinality($1::text[])
		    AND COUNT(*) FILTER (WHERE m.user_id = ANY($1)) = cardinality($1::text[])
		 LIMIT 1`,
		userIDs,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("channelRepo.FindDM: %w", err)
	}
	return r.GetByID(ctx, id)
}

// AddMembers вставляет только отсутствующих участников (идемпотентно) и
// возвращает итоговый список членств для переданных userIDs.
func (r *ChannelRepository) AddMembers(ctx context.Context, channelID string, userIDs []string, invitedBy string) ([]model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.AddMembers", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.AddMembers begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := nowNS()
	for _, uid := range userIDs {
		if err := insertMember(ctx, tx, channelID, uid, invitedBy, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("channelRepo.AddMembers commit: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+memberCols+` FROM channel_member WHERE channel_id = $1 AND user_id = ANY($2)`,
		channelID, userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.AddMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.ChannelMember, 0, len(userIDs))
	for rows.Next() {
		var m model.ChannelMember
		if err := scanMember(rows, &m); err != nil {
			return nil, fmt.Errorf("channelRepo.AddMembers scan: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.AddMembers rows: %w", err)
	}
	return members, nil
}

// RemoveMembers удаляет строки членства безвозвратно (не мягкий выход).
func (r *ChannelRepository) RemoveMembers(ctx context.Context, channelID string, userIDs []string) error {
	defer logger.DeferLogDuration("channel.RemoveMembers", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM channel_member WHERE channel_id = $1 AND user_id = ANY($2)`,
		channelID, userIDs,
	)
	if err != nil {
		return fmt.Errorf("channelRepo.RemoveMembers: %w", err)
	}
	return nil
}

// Join возвращает существующее членство без изменений либо создаёт новое
// со status=joined. Повторный вызов — no-op.
func (r *ChannelRepository) Join(ctx context.Context, channelID, userID string) (*model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.Join", time.Now())()
	m, err := r.GetMember(ctx, channelID, userID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := nowNS()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO channel_member (id, channel_id, user_id, role, status, is_active, joined_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6, $6)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		uuid.New().String(), channelID, userID, model.MemberRoleMember, model.MemberStatusJoined, now,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.Join: %w", err)
	}
	return r.GetMember(ctx, channelID, userID)
}

// Leave помечает членство как покинутое, сохраняя строку ради истории.
// Возвращает false, если членства не было.
func (r *ChannelRepository) Leave(ctx context.Context, channelID, userID string) (bool, error) {
	defer logger.DeferLogDuration("channel.Leave", time.Now())()
	now := nowNS()
	tag, err := r.pool.Exec(ctx,
		`UPDATE channel_member SET status = $1, is_active = FALSE, left_at = $2, updated_at = $2
		 WHERE channel_id = $3 AND user_id = $4`,
		model.MemberStatusLeft, now, channelID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("channelRepo.Leave: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ChannelRepository) GetMember(ctx context.Context, channelID, userID string) (*model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.GetMember", time.Now())()
	m := &model.ChannelMember{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+memberCols+` FROM channel_member WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	if err := scanMember(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channelRepo.GetMember: %w", err)
	}
	return m, nil
}

func (r *ChannelRepository) GetMembers(ctx context.Context, channelID string) ([]model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+memberCols+` FROM channel_member WHERE channel_id = $1 ORDER BY created_at`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.ChannelMember, 0, 8)
	for rows.Next() {
		var m model.ChannelMember
		if err := scanMember(rows, &m); err != nil {
			return nil, fmt.Errorf("channelRepo.GetMembers scan: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.GetMembers rows: %w", err)
	}
	return members, nil
}

// MemberIDs возвращает id активных участников канала (для комнат и уведомлений).
func (r *ChannelRepository) MemberIDs(ctx context.Context, channelID string) ([]string, error) {
	defer logger.DeferLogDuration("channel.MemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM channel_member WHERE channel_id = $1 AND is_active`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.MemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("channelRepo.MemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.MemberIDs rows: %w", err)
	}
	return ids, nil
}

// IsManager: владелец канала или участник с ролью manager.
func (r *ChannelRepository) IsManager(ctx context.Context, channelID, userID string) (bool, error) {
	defer logger.DeferLogDuration("channel.IsManager", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel WHERE id = $1 AND user_id = $2)
		     OR EXISTS(SELECT 1 FROM channel_member WHERE channel_id = $1 AND user_id = $2 AND role = $3)`,
		channelID, userID, model.MemberRoleManager,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("channelRepo.IsManager: %w", err)
	}
	return ok, nil
}

// UpdateLastReadAt сдвигает отметку прочитанного на текущий момент.
func (r *ChannelRepository) UpdateLastReadAt(ctx context.Context, channelID, userID string) (*model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.UpdateLastReadAt", time.Now())()
	now := nowNS()
	_, err := r.pool.Exec(ctx,
		`UPDATE channel_member SET last_read_at = $1, updated_at = $1 WHERE channel_id = $2 AND user_id = $3`,
		now, channelID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.UpdateLastReadAt: %w", err)
	}
	return r.GetMember(ctx, channelID, userID)
}

// SetMemberActive включает/выключает членство без потери истории.
func (r *ChannelRepository) SetMemberActive(ctx context.Context, channelID, userID string, active bool) (*model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.SetMemberActive", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE channel_member SET is_active = $1, updated_at = $2 WHERE channel_id = $3 AND user_id = $4`,
		active, nowNS(), channelID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.SetMemberActive: %w", err)
	}
	return r.GetMember(ctx, channelID, userID)
}

// ReactivateMembers возвращает is_active всем неактивным участникам канала и
// отдаёт их id. Новое сообщение в group/dm канале снова делает диалог видимым
// у всех, кто его скрывал.
func (r *ChannelRepository) ReactivateMembers(ctx context.Context, channelID string) ([]string, error) {
	defer logger.DeferLogDuration("channel.ReactivateMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE channel_member SET is_active = TRUE, updated_at = $1
		 WHERE channel_id = $2 AND NOT is_active
		 RETURNING user_id`,
		nowNS(), channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ReactivateMembers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("channelRepo.ReactivateMembers scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.ReactivateMembers rows: %w", err)
	}
	return ids, nil
}

// SetMemberMuted выставляет флаг отключения уведомлений канала для участника.
func (r *ChannelRepository) SetMemberMuted(ctx context.Context, channelID, userID string, muted bool) (*model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.SetMemberMuted", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE channel_member SET is_channel_muted = $1, updated_at = $2 WHERE channel_id = $3 AND user_id = $4`,
		muted, nowNS(), channelID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.SetMemberMuted: %w", err)
	}
	return r.GetMember(ctx, channelID, userID)
}

// SetMemberPinned закрепляет канал в списке у конкретного участника.
func (r *ChannelRepository) SetMemberPinned(ctx context.Context, channelID, userID string, pinned bool) (*model.ChannelMember, error) {
	defer logger.DeferLogDuration("channel.SetMemberPinned", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE channel_member SET is_channel_pinned = $1, updated_at = $2 WHERE channel_id = $3 AND user_id = $4`,
		pinned, nowNS(), channelID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.SetMemberPinned: %w", err)
	}
	return r.GetMember(ctx, channelID, userID)
}

// Update обновляет канал; data и meta сливаются поключево поверх существующих.
func (r *ChannelRepository) Update(ctx context.Context, id, updatedBy string, form *model.ChannelForm) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.Update", time.Now())()
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data := model.ShallowMerge(existing.Data, form.Data)
	meta := model.ShallowMerge(existing.Meta, form.Meta)
	now := nowNS()
	_, err = r.pool.Exec(ctx,
		`UPDATE channel SET name = $1, description = $2, is_private = $3, data = $4, meta = $5,
		        access_control = $6, updated_at = $7, updated_by = $8
		 WHERE id = $9`,
		form.Name, form.Description, form.IsPrivate, data, meta, form.AccessControl, now, updatedBy, id,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.Update: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Delete удаляет канал вместе с сообщениями, реакциями и членствами.
// Сообщения удаляются итеративно, дети раньше родителей (треды могут ветвиться).
func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("channel.Delete", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("channelRepo.Delete begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id, parent_id FROM message WHERE channel_id = $1`, id)
	if err != nil {
		return fmt.Errorf("channelRepo.Delete messages query: %w", err)
	}
	type node struct {
		id     string
		parent *string
	}
	nodes := make([]node, 0, 64)
	for rows.Next() {
		var n node
		if err := rows.Scan(&n.id, &n.parent); err != nil {
			rows.Close()
			return fmt.Errorf("channelRepo.Delete messages scan: %w", err)
		}
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("channelRepo.Delete messages rows: %w", err)
	}

	// Обход без рекурсии: явный стек, дети попадают в порядок удаления раньше родителя.
	children := make(map[string][]string, len(nodes))
	inChannel := make(map[string]struct{}, len(nodes))
	roots := make([]string, 0, len(nodes))
	for _, n := range nodes {
		inChannel[n.id] = struct{}{}
	}
	for _, n := range nodes {
		if n.parent != nil {
			if _, ok := inChannel[*n.parent]; ok {
				children[*n.parent] = append(children[*n.parent], n.id)
				continue
			}
		}
		roots = append(roots, n.id)
	}
	order := make([]string, 0, len(nodes))
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, cur)
		stack = append(stack, children[cur]...)
	}
	// order построен родитель-раньше-детей; удаляем в обратном порядке
	for i := len(order) - 1; i >= 0; i-- {
		mid := order[i]
		if _, err := tx.Exec(ctx, `DELETE FROM message_reaction WHERE message_id = $1`, mid); err != nil {
			return fmt.Errorf("channelRepo.Delete reactions: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM message WHERE id = $1`, mid); err != nil {
			return fmt.Errorf("channelRepo.Delete message: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM channel_member WHERE channel_id = $1`, id); err != nil {
		return fmt.Errorf("channelRepo.Delete members: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM channel_webhook WHERE channel_id = $1`, id); err != nil {
		return fmt.Errorf("channelRepo.Delete webhooks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM channel WHERE id = $1`, id); err != nil {
		return fmt.Errorf("channelRepo.Delete channel: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("channelRepo.Delete commit: %w", err)
	}
	return nil
}
