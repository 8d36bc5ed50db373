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

// ReactionRepository хранит по одной строке на (сообщение, пользователь).
// Счётчики по эмодзи выводятся из этих строк, поэтому карты реакций всегда согласованы.
type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Set ставит или меняет реакцию пользователя. changed=false, если эмодзи тот же.
func (r *ReactionRepository) Set(ctx context.Context, channelID, messageID, userID, emoji string) (*model.Message, bool, error) {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	var (
		out     *model.Message
		changed bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockMessage(ctx, tx, channelID, messageID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (message_id, user_id) DO UPDATE
			     SET emoji = EXCLUDED.emoji, updated_at = now()
			     WHERE message_reactions.emoji <> EXCLUDED.emoji`,
			messageID, userID, emoji,
		)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		out, err = getMessage(ctx, tx, channelID, messageID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return out, changed, nil
}

// Remove снимает реакцию пользователя, если она была.
func (r *ReactionRepository) Remove(ctx context.Context, channelID, messageID, userID string) (*model.Message, bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	var (
		out     *model.Message
		removed bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockMessage(ctx, tx, channelID, messageID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
			messageID, userID,
		)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected() > 0
		out, err = getMessage(ctx, tx, channelID, messageID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return out, removed, nil
}

func lockMessage(ctx context.Context, tx pgx.Tx, channelID, messageID string) error {
	var id string
	err := tx.QueryRow(ctx,
		`SELECT id FROM messages WHERE id = $1 AND channel_id = $2 FOR UPDATE`, messageID, channelID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// loadReactions заполняет ReactionCounts и UserReactions для пачки сообщений одним запросом.
func loadReactions(ctx context.Context, q querier, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	idx := make(map[string]int, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
		idx[messages[i].ID] = i
	}
	rows, err := q.Query(ctx,
		`SELECT message_id, user_id, emoji FROM message_reactions WHERE message_id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("reactions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID, userID, emoji string
		if err := rows.Scan(&messageID, &userID, &emoji); err != nil {
			return fmt.Errorf("reactions scan: %w", err)
		}
		if i, ok := idx[messageID]; ok {
			messages[i].ApplyReaction(userID, emoji)
		}
	}
	return rows.Err()
}
