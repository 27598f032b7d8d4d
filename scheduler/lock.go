package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker is the subset of the cache used as a distributed lock.
type Locker interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

// Exclusive wraps fn so that across all instances sharing l only one runs
// it at a time. A run that cannot take the lock is skipped. ttl bounds how
// long a crashed holder can block the others.
func Exclusive(l Locker, key string, ttl time.Duration, logger *zap.Logger, fn TaskFn) TaskFn {
	return func(ctx context.Context) error {
		token := uuid.NewString()
		ok, err := l.SetNX(ctx, key, token, ttl)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug("job lock held elsewhere, skipping", zap.String("lock", key))
			return nil
		}
		defer func() {
			// Release even if ctx was cancelled by Stop.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if _, err := l.DelIfValue(rctx, key, token); err != nil {
				logger.Warn("job lock release failed", zap.String("lock", key), zap.Error(err))
			}
		}()
		return fn(ctx)
	}
}
