package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

// CredentialCache keeps company credentials in Redis for ttl. Redis errors
// fall back to the source so a cache outage never blocks a send.
type CredentialCache struct {
	rdb    *redis.Client
	source CredentialSource
	ttl    time.Duration
}

func NewCredentialCache(rdb *redis.Client, source CredentialSource, ttl time.Duration) *CredentialCache {
	return &CredentialCache{rdb: rdb, source: source, ttl: ttl}
}

type credentialValue struct {
	AccessToken   string `json:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId"`
}

func credentialKey(companyID string) string {
	return fmt.Sprintf("creds:%s", companyID)
}

func (c *CredentialCache) Credentials(ctx context.Context, companyID string) (model.Credentials, error) {
	key := credentialKey(companyID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v credentialValue
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return model.Credentials{AccessToken: v.AccessToken, PhoneNumberID: v.PhoneNumberID}, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("credential cache read failed", "companyID", companyID, "err", err)
	}

	creds, err := c.source.Credentials(ctx, companyID)
	if err != nil {
		return model.Credentials{}, err
	}

	// Incomplete credentials are not cached so a fix in the database is
	// picked up on the next request.
	if !creds.Complete() {
		return creds, nil
	}

	b, err := json.Marshal(credentialValue{AccessToken: creds.AccessToken, PhoneNumberID: creds.PhoneNumberID})
	if err != nil {
		return creds, nil
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		slog.Warn("credential cache write failed", "companyID", companyID, "err", err)
	}
	return creds, nil
}

// Invalidate drops the cached entry, used after the provider rejects a token.
func (c *CredentialCache) Invalidate(ctx context.Context, companyID string) error {
	return c.rdb.Del(ctx, credentialKey(companyID)).Err()
}
