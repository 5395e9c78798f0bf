package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RedisDeduper records sent notifications in Redis so all instances skip a
// card that was notified within the type's window.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (r *RedisDeduper) key(userID string, cardID primitive.ObjectID, t Type) string {
	return fmt.Sprintf("notify:%s:%s:%s", userID, cardID.Hex(), t)
}

// Claim records the notification if no other one of the same type was
// recorded within window. It returns true when the caller may send.
func (r *RedisDeduper) Claim(ctx context.Context, userID string, cardID primitive.ObjectID, t Type, window time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, cardID, t), 1, window).Result()
}

// Release drops a claim so a later check may retry.
func (r *RedisDeduper) Release(ctx context.Context, userID string, cardID primitive.ObjectID, t Type) error {
	return r.client.Del(ctx, r.key(userID, cardID, t)).Err()
}

// storeDeduper falls back to looking for a recent notification in the
// store. Claims are not atomic across instances.
type storeDeduper struct {
	store Store
	now   func() time.Time
}

func (s storeDeduper) Claim(ctx context.Context, userID string, cardID primitive.ObjectID, t Type, window time.Duration) (bool, error) {
	exists, err := s.store.RecentExists(ctx, userID, cardID, t, s.now().Add(-window))
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (s storeDeduper) Release(context.Context, string, primitive.ObjectID, Type) error {
	return nil
}
