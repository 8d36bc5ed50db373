package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageCols = `id, seq, channel_id, owner_uid, created_at, type, admin_type, text,
	thumbnail_url, thumbnail_width, thumbnail_height, video_url, audio_url, audio_duration, channel_name_at_send`

// querier — общий интерфейс пула и транзакции для чтения.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s pgx.Row, m *model.Message) error {
	return s.Scan(&m.ID, &m.Seq, &m.ChannelID, &m.OwnerUID, &m.Timestamp, &m.Type, &m.AdminType, &m.Text,
		&m.ThumbnailURL, &m.ThumbnailWidth, &m.ThumbnailHeight, &m.VideoURL, &m.AudioURL, &m.AudioDuration,
		&m.ChannelNameAtSend)
}

// Append добавляет сообщение и обновляет last_message канала в одной транзакции.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return appendTx(ctx, tx, m)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.Append: %w", err)
	}
	return nil
}

// appendTx блокирует строку канала (FOR UPDATE), так что seq назначается без пропусков и гонок.
func appendTx(ctx context.Context, tx pgx.Tx, m *model.Message) error {
	var (
		lastSeq int64
		lastAt  time.Time
	)
	err := tx.QueryRow(ctx,
		`SELECT last_seq, last_message_at FROM channels WHERE id = $1 FOR UPDATE`, m.ChannelID,
	).Scan(&lastSeq, &lastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock channel: %w", err)
	}
	// timestamptz хранит микросекунды.
	if err := m.Assign(lastSeq+1, lastAt, time.Now().UTC().Truncate(time.Microsecond)); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (`+messageCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.Seq, m.ChannelID, m.OwnerUID, m.Timestamp, m.Type, m.AdminType, m.Text,
		m.ThumbnailURL, m.ThumbnailWidth, m.ThumbnailHeight, m.VideoURL, m.AudioURL, m.AudioDuration,
		m.ChannelNameAtSend,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE channels SET last_seq = $2, last_message_at = GREATEST(last_message_at, $3),
		     last_message = $4, last_message_type = $5
		 WHERE id = $1`,
		m.ChannelID, m.Seq, m.Timestamp, m.Preview(), m.Type,
	)
	if err != nil {
		return fmt.Errorf("update channel last message: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, channelID, messageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m, err := getMessage(ctx, r.pool, channelID, messageID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

func getMessage(ctx context.Context, q querier, channelID, messageID string) (*model.Message, error) {
	m := &model.Message{}
	row := q.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1 AND channel_id = $2`, messageID, channelID)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msgs := []model.Message{*m}
	if err := loadReactions(ctx, q, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// GetFirst отдаёт самое раннее сообщение канала (служебное сообщение о создании).
func (r *MessageRepository) GetFirst(ctx context.Context, channelID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetFirst", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE channel_id = $1 ORDER BY seq LIMIT 1`, channelID)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetFirst: %w", err)
	}
	msgs := []model.Message{*m}
	if err := loadReactions(ctx, r.pool, msgs); err != nil {
		return nil, fmt.Errorf("msgRepo.GetFirst reactions: %w", err)
	}
	return &msgs[0], nil
}

// ListBefore отдаёт сообщения от новых к старым, seq < beforeSeq (0 значит с конца), без сообщения о создании.
func (r *MessageRepository) ListBefore(ctx context.Context, channelID string, beforeSeq int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListBefore", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE channel_id = $1
		   AND ($2::bigint = 0 OR seq < $2)
		   AND admin_type <> $3
		 ORDER BY seq DESC
		 LIMIT $4`, channelID, beforeSeq, model.AdminChannelCreation, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListBefore scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore rows: %w", err)
	}
	if err := loadReactions(ctx, r.pool, messages); err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore reactions: %w", err)
	}
	return messages, nil
}
