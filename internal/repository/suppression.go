package repository

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

const suppressionKey = "suppression:senders"

// SuppressionStore tracks addresses that must never receive automated
// replies (auto-responders and bouncing mailboxes). Backed by a Redis
// set shared between the listener process and the notifier worker.
type SuppressionStore struct {
	rdb *redis.Client
}

func NewSuppressionStore(rdb *redis.Client) *SuppressionStore {
	return &SuppressionStore{rdb: rdb}
}

// Suppress adds an address to the suppression set.
func (s *SuppressionStore) Suppress(ctx context.Context, addr string) error {
	return s.rdb.SAdd(ctx, suppressionKey, strings.ToLower(addr)).Err()
}

// IsSuppressed reports whether automated mail to addr is blocked.
func (s *SuppressionStore) IsSuppressed(ctx context.Context, addr string) (bool, error) {
	return s.rdb.SIsMember(ctx, suppressionKey, strings.ToLower(addr)).Result()
}
