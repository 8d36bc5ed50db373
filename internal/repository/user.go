package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound совпадает с storage.ErrNotFound.
var ErrNotFound = storage.ErrNotFound

const userCols = `id, display_name, email, bio, profile_image_url, chat_sdk_token, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s pgx.Row, u *model.User) error {
	return s.Scan(&u.ID, &u.DisplayName, &u.Email, &u.Bio, &u.ProfileImageURL, &u.ChatSDKToken, &u.CreatedAt)
}

// Upsert создаёт пользователя или обновляет имя, почту и фото. Био и токен SDK не затираются.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, display_name, email, bio, profile_image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     display_name = EXCLUDED.display_name,
		     email = EXCLUDED.email,
		     profile_image_url = COALESCE(EXCLUDED.profile_image_url, users.profile_image_url),
		     bio = COALESCE(EXCLUDED.bio, users.bio)
		 RETURNING `+userCols,
		u.ID, u.DisplayName, u.Email, u.Bio, u.ProfileImageURL, u.CreatedAt,
	)
	if err := scanUser(row, u); err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
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

// GetByIDs возвращает найденных пользователей; отсутствующие id просто не попадают в карту.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u := &model.User{}
		if err := scanUser(rows, u); err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs scan: %w", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs rows: %w", err)
	}
	return out, nil
}

// UpdateProfile меняет только переданные (не nil) поля.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, displayName, bio, imageURL *string) (*model.User, error) {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET
		     display_name = COALESCE($2, display_name),
		     bio = COALESCE($3, bio),
		     profile_image_url = COALESCE($4, profile_image_url)
		 WHERE id = $1
		 RETURNING `+userCols,
		id, displayName, bio, imageURL,
	)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	return u, nil
}

func (r *UserRepository) SetChatSDKToken(ctx context.Context, id string, token *string) error {
	defer logger.DeferLogDuration("user.SetChatSDKToken", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET chat_sdk_token = $2 WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("userRepo.SetChatSDKToken: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
