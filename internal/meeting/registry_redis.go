package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slotTTL bounds how long an abandoned slot can block a coach from
// joining their next session if Release was never delivered.
const slotTTL = 4 * time.Hour

type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func slotKey(coachID int64) string {
	return fmt.Sprintf("meeting:coach:%d", coachID)
}

func (r *RedisRegistry) TryAcquire(ctx context.Context, coachID int64, meetingID string) (bool, string, error) {
	key := slotKey(coachID)

	acquired, err := r.client.SetNX(ctx, key, meetingID, slotTTL).Result()
	if err != nil {
		return false, "", err
	}
	if acquired {
		return true, meetingID, nil
	}

	active, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Slot expired between SetNX and Get; retry once.
			return r.TryAcquire(ctx, coachID, meetingID)
		}
		return false, "", err
	}
	if active == meetingID {
		// Rejoin: refresh the slot's lease.
		if err := r.client.Expire(ctx, key, slotTTL).Err(); err != nil {
			return false, "", err
		}
		return true, meetingID, nil
	}
	return false, active, nil
}

func (r *RedisRegistry) Active(ctx context.Context, coachID int64) (string, error) {
	active, err := r.client.Get(ctx, slotKey(coachID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return active, nil
}

func (r *RedisRegistry) Release(ctx context.Context, coachID int64) error {
	return r.client.Del(ctx, slotKey(coachID)).Err()
}
