package startup

import (
	"context"
	"time"

	redisstorage "github.com/fanout/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry("redis connect", maxWait, logPrefix, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(ctx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
