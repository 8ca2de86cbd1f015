package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/park285/cheese-board-editor/internal/position"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix = "vision:"
	ttlRecognition = 24 * time.Hour
)

// CachedRecognizer remembers successful recognitions by image digest. Failed reads and
// results that do not parse as a position are never cached, so a retry with the same
// photo reaches the service again.
type CachedRecognizer struct {
	next   Recognizer
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRecognizer(next Recognizer, rdb *redis.Client, logger *zap.Logger) *CachedRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRecognizer{next: next, rdb: rdb, ttl: ttlRecognition, logger: logger}
}

func cacheKey(image []byte) string {
	sum := sha256.Sum256(image)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedRecognizer) Recognize(ctx context.Context, image []byte) (string, bool, error) {
	key := cacheKey(image)
	if c.rdb != nil {
		fen, err := c.rdb.Get(ctx, key).Result()
		switch {
		case err == nil && fen != "":
			return fen, true, nil
		case err != nil && !errors.Is(err, redis.Nil):
			// cache outage only costs a service round trip
			c.logger.Warn("vision cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	fen, ok, err := c.next.Recognize(ctx, image)
	if err != nil || !ok {
		return fen, ok, err
	}
	if _, perr := position.Parse(fen); perr != nil {
		c.logger.Debug("vision result not cached", zap.String("fen", fen), zap.Error(perr))
		return fen, true, nil
	}
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, fen, c.ttl).Err(); err != nil {
			c.logger.Warn("vision cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return fen, true, nil
}
