package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// nowNS — текущее время в наносекундах эпохи; все таблицы хранят время так.
func nowNS() int64 { return time.Now().UnixNano() }

const userCols = `id, name, email, role, profile_image_url, settings, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ProfileImageURL, &u.Settings, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, role, profile_image_url, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Name, u.Email, u.Role, u.ProfileImageURL, u.Settings, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetByIDs возвращает пользователей по списку id (порядок не гарантируется).
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs rows: %w", err)
	}
	return users, nil
}

// GroupIDs возвращает id групп, в которых состоит пользователь.
func (r *UserRepository) GroupIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("user.GroupIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT group_id FROM group_member WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GroupIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("userRepo.GroupIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GroupIDs rows: %w", err)
	}
	return ids, nil
}

// GroupMemberIDs возвращает id пользователей, состоящих в любой из указанных групп.
func (r *UserRepository) GroupMemberIDs(ctx context.Context, groupIDs []string) ([]string, error) {
	defer logger.DeferLogDuration("user.GroupMemberIDs", time.Now())()
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM group_member WHERE group_id = ANY($1)`, groupIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GroupMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("userRepo.GroupMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GroupMemberIDs rows: %w", err)
	}
	return ids, nil
}

// UpdateSettings перезаписывает настройки пользователя.
func (r *UserRepository) UpdateSettings(ctx context.Context, userID string, settings map[string]any) error {
	defer logger.DeferLogDuration("user.UpdateSettings", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET settings = $1, updated_at = $2 WHERE id = $3`,
		settings, nowNS(), userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateSettings: %w", err)
	}
	return nil
}
