package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cycleLockKey   = "rabbithole:cycle:lock"
	agentStatusKey = "rabbithole:agent:status"
)

// Store wraps the redis client for the two cross-process concerns: the
// research cycle lock and the published agent status snapshot.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Client() *redis.Client { return s.rdb }

// AcquireCycleLock claims the cluster-wide cycle lock. The TTL bounds how
// long a crashed worker can block the next cycle.
func (s *Store) AcquireCycleLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, cycleLockKey, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *Store) ReleaseCycleLock(ctx context.Context) error {
	return s.rdb.Del(ctx, cycleLockKey).Err()
}

// SetAgentStatus publishes the worker's status snapshot so the API process
// can serve it without sharing memory with the worker.
func (s *Store) SetAgentStatus(ctx context.Context, snapshot any) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, agentStatusKey, body, 0).Err()
}

// GetAgentStatus returns the raw published snapshot, or nil when no worker
// has ever reported.
func (s *Store) GetAgentStatus(ctx context.Context) (json.RawMessage, error) {
	body, err := s.rdb.Get(ctx, agentStatusKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(body), nil
}
