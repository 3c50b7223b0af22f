package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by lookups when the key expired or was never written.
var ErrMiss = errors.New("cache miss")

// RedisCache records provider delivery receipts for sent messages. Each
// receipt is indexed by our message id and by the provider's message id so
// status callbacks can be correlated without a database round trip.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type Receipt struct {
	MessageID       string    `json:"messageId"`
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func receiptKey(messageID string) string { return "msg:" + messageID }
func remoteKey(remoteID string) string { return "wamid:" + remoteID }

func (c *RedisCache) StoreSent(ctx context.Context, messageID string, remoteMessageID string, sentAt time.Time) error {
	b, err := json.Marshal(Receipt{
		MessageID:       messageID,
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, receiptKey(messageID), b, c.ttl)
		if remoteMessageID != "" {
			p.Set(ctx, remoteKey(remoteMessageID), messageID, c.ttl)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Receipt(ctx context.Context, messageID string) (Receipt, error) {
	raw, err := c.rdb.Get(ctx, receiptKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, ErrMiss
	}
	if err != nil {
		return Receipt{}, err
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

// MessageForRemote resolves a provider message id back to our message id.
func (c *RedisCache) MessageForRemote(ctx context.Context, remoteMessageID string) (string, error) {
	id, err := c.rdb.Get(ctx, remoteKey(remoteMessageID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return id, err
}
