package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDBWithRetry подключается к Postgres с повторами: при старте в compose БД может подняться позже сервиса.
// logPrefix добавляется к сообщениям лога (например "api: ").
func ConnectDBWithRetry(poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry("db connect", maxWait, logPrefix, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		cancel()
		if err != nil {
			return err
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return fmt.Errorf("ping: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
