package startup

import (
	"fmt"
	"time"

	"github.com/fanout/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry вызывает connect, пока он не вернёт nil или не истечёт maxWait.
// Пауза начинается с 2s и удваивается до 30s.
func retry(what string, maxWait time.Duration, logPrefix string, connect func() error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := connect()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
