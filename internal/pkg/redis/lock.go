package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有 token 的调用方才能释放锁
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock 获取分布式锁，返回释放时需要的 token。
// 锁已被持有时返回 ErrLockHeld。
func (c *Client) Lock(ctx context.Context, key string, expiration time.Duration) (string, error) {
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, c.Key(key), token, expiration).Result()
	if err != nil {
		c.logger.Error("redis lock failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrLockHeld
	}

	c.logger.Debug("redis lock acquired",
		zap.String("key", key),
		zap.Duration("expiration", expiration),
	)
	return token, nil
}

// Unlock 释放分布式锁（使用 Lua 脚本保证原子性）。
// 锁已过期或被他人持有时返回 ErrLockLost。
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, c.rdb, []string{c.Key(key)}, token).Int64()
	if err != nil {
		c.logger.Error("redis unlock failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockLost
	}

	c.logger.Debug("redis lock released", zap.String("key", key))
	return nil
}

// WithLock 在锁保护下执行函数。未拿到锁时 fn 不执行并返回 ErrLockHeld。
// 释放使用独立的 context，调用方取消后锁依然会被释放。
func (c *Client) WithLock(ctx context.Context, key string, expiration time.Duration, fn func(ctx context.Context) error) error {
	token, err := c.Lock(ctx, key, expiration)
	if err != nil {
		return err
	}

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.Unlock(unlockCtx, key, token); err != nil {
			c.logger.Warn("failed to unlock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
