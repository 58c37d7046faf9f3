package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"bkoda/internal/logger"
)

// Redis serializes seat-mutating sequences per trip with a SetNX lock.
// The conditional seat UPDATE in the database remains the correctness
// backstop; the lock keeps concurrent booking and reschedule requests
// from interleaving their check-then-mutate sequences.
type Redis struct {
	Client  *redis.Client
	Logger  *logger.Logger
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Redis{Client: client, Logger: log, LockTTL: lockTTL}
}

func tripLockKey(tripID string) string {
	return "trip_lock:" + tripID
}

// LockTrip takes the lock for one trip. The token identifies the holder
// so only the owner can release it.
func (r *Redis) LockTrip(ctx context.Context, tripID, token string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, tripLockKey(tripID), token, r.LockTTL).Result()
	return ok, err
}

// UnlockTrip releases the lock if the token still owns it.
func (r *Redis) UnlockTrip(ctx context.Context, tripID, token string) error {
	key := tripLockKey(tripID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// LockTrips takes locks for several trips, rolling back the ones already
// taken if any fails. The reschedule flow locks the old and the new trip
// together.
func (r *Redis) LockTrips(ctx context.Context, tripIDs []string, token string) (bool, error) {
	locked := []string{}
	for _, tripID := range tripIDs {
		ok, err := r.LockTrip(ctx, tripID, token)
		if err != nil || !ok {
			for _, l := range locked {
				_ = r.UnlockTrip(ctx, l, token)
			}
			if err != nil {
				return false, err
			}
			if r.Logger != nil {
				r.Logger.Warn("REDIS", fmt.Sprintf("trip %s already locked", tripID))
			}
			return false, nil
		}
		locked = append(locked, tripID)
	}
	return true, nil
}

// UnlockTrips releases all locks, reporting the first error.
func (r *Redis) UnlockTrips(ctx context.Context, tripIDs []string, token string) error {
	var firstErr error
	for _, tripID := range tripIDs {
		if err := r.UnlockTrip(ctx, tripID, token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
