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

// channelSelect — канал вместе с участниками (в порядке добавления) и админами.
const channelSelect = `
	SELECT c.id, c.name, c.created_by, c.created_at, c.last_message_at, c.members_count,
	       c.last_message, c.last_message_type, c.thumbnail_url,
	       array_agg(m.user_id ORDER BY m.position),
	       COALESCE(array_agg(m.user_id ORDER BY m.position) FILTER (WHERE m.is_admin), '{}')
	FROM channels c
	JOIN channel_members m ON m.channel_id = c.id`

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

func scanChannel(s pgx.Row, c *model.Channel) error {
	return s.Scan(&c.ID, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.LastMessageAt, &c.MembersCount,
		&c.LastMessage, &c.LastMessageType, &c.ThumbnailURL, &c.MemberUIDs, &c.AdminUIDs)
}

// Create пишет канал, участников и служебное сообщение о создании одной транзакцией.
func (r *ChannelRepository) Create(ctx context.Context, c *model.Channel, creation *model.Message) error {
	defer logger.DeferLogDuration("channel.Create", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return insertChannelTx(ctx, tx, c, creation)
	})
	if err != nil {
		return fmt.Errorf("channelRepo.Create: %w", err)
	}
	return nil
}

// CreateDirect занимает ключ пары через INSERT ... ON CONFLICT DO NOTHING.
// Если ключ уже занят (в том числе параллельной транзакцией), транзакция откатывается
// и возвращается id канала-победителя: побеждает первый записавший.
func (r *ChannelRepository) CreateDirect(ctx context.Context, key string, c *model.Channel, creation *model.Message) (string, bool, error) {
	defer logger.DeferLogDuration("channel.CreateDirect", time.Now())()
	errTaken := errors.New("pair taken")
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertChannelTx(ctx, tx, c, creation); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO direct_channels (pair_key, channel_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			key, c.ID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errTaken
		}
		return nil
	})
	if errors.Is(err, errTaken) {
		id, findErr := r.FindDirect(ctx, key)
		if findErr != nil {
			return "", false, fmt.Errorf("channelRepo.CreateDirect winner: %w", findErr)
		}
		return id, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("channelRepo.CreateDirect: %w", err)
	}
	return c.ID, true, nil
}

func insertChannelTx(ctx context.Context, tx pgx.Tx, c *model.Channel, creation *model.Message) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.LastMessageAt = c.CreatedAt
	_, err := tx.Exec(ctx,
		`INSERT INTO channels (id, name, created_by, created_at, last_message_at, members_count, thumbnail_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.CreatedBy, c.CreatedAt, c.LastMessageAt, c.MembersCount, c.ThumbnailURL,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	batch := &pgx.Batch{}
	for i, uid := range c.MemberUIDs {
		batch.Queue(
			`INSERT INTO channel_members (channel_id, user_id, position, is_admin) VALUES ($1, $2, $3, $4)`,
			c.ID, uid, i, c.IsAdmin(uid),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert members: %w", err)
	}
	creation.ChannelID = c.ID
	if err := appendTx(ctx, tx, creation); err != nil {
		return err
	}
	c.Touch(creation)
	return nil
}

func (r *ChannelRepository) FindDirect(ctx context.Context, key string) (string, error) {
	defer logger.DeferLogDuration("channel.FindDirect", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx, `SELECT channel_id FROM direct_channels WHERE pair_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("channelRepo.FindDirect: %w", err)
	}
	return id, nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.GetByID", time.Now())()
	c := &model.Channel{}
	row := r.pool.QueryRow(ctx, channelSelect+` WHERE c.id = $1 GROUP BY c.id`, id)
	if err := scanChannel(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForUser отдаёт ленту каналов пользователя от свежих к старым.
// Равные last_message_at упорядочиваются по id побайтово (COLLATE "C"), как и в курсоре.
func (r *ChannelRepository) ListForUser(ctx context.Context, userID string, after storage.ChannelCursor, limit int) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.ListForUser", time.Now())()
	var afterAt *time.Time
	if !after.IsZero() {
		afterAt = &after.LastMessageAt
	}
	rows, err := r.pool.Query(ctx, channelSelect+`
		WHERE c.id IN (SELECT channel_id FROM channel_members WHERE user_id = $1)
		  AND ($2::timestamptz IS NULL
		       OR c.last_message_at < $2
		       OR (c.last_message_at = $2 AND $3 <> '' AND c.id COLLATE "C" > $3))
		GROUP BY c.id
		ORDER BY c.last_message_at DESC, c.id COLLATE "C"
		LIMIT $4`, userID, afterAt, after.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	channels := make([]model.Channel, 0, limit)
	for rows.Next() {
		var c model.Channel
		if err := scanChannel(rows, &c); err != nil {
			return nil, fmt.Errorf("channelRepo.ListForUser scan: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("channelRepo.ListForUser rows: %w", err)
	}
	return channels, nil
}

// Rename меняет имя и пишет служебное сообщение channelNameChanged в той же транзакции.
// Снимки ChannelNameAtSend уже записанных сообщений не трогаются.
func (r *ChannelRepository) Rename(ctx context.Context, id string, name *string, notice *model.Message) error {
	defer logger.DeferLogDuration("channel.Rename", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE channels SET name = $2 WHERE id = $1`, id, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		notice.ChannelID = id
		return appendTx(ctx, tx, notice)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("channelRepo.Rename: %w", err)
	}
	return nil
}
