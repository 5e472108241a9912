package store

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
)

// Seen remembers message ids so redelivered webhook events are processed once.
type Seen interface {
	// MarkSeen records mid and reports whether it had been recorded before.
	MarkSeen(ctx context.Context, mid string) (duplicate bool, err error)
}

const defaultSeenLimit = 10000

// MemorySeen is a process-local Seen. It forgets everything once Limit ids
// have been recorded.
type MemorySeen struct {
	Limit int

	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemorySeen(limit int) *MemorySeen {
	if limit <= 0 {
		limit = defaultSeenLimit
	}
	return &MemorySeen{Limit: limit, ids: make(map[string]struct{})}
}

func (s *MemorySeen) MarkSeen(_ context.Context, mid string) (bool, error) {
	if mid == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	if _, ok := s.ids[mid]; ok {
		return true, nil
	}
	if s.Limit > 0 && len(s.ids) >= s.Limit {
		s.ids = make(map[string]struct{})
	}
	s.ids[mid] = struct{}{}
	return false, nil
}

const seenKeyPrefix = "chabi:seen:"

// RedisSeen shares dedup state between replicas through SETNX with a TTL.
type RedisSeen struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisSeen(addr, password string, db int, ttl time.Duration) *RedisSeen {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSeen{Client: client, TTL: ttl}
}

func (s *RedisSeen) MarkSeen(ctx context.Context, mid string) (bool, error) {
	if mid == "" {
		return false, nil
	}
	created, err := s.Client.WithContext(ctx).SetNX(seenKeyPrefix+mid, 1, s.TTL).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}

// Ping checks the redis connection.
func (s *RedisSeen) Ping(ctx context.Context) error {
	return s.Client.WithContext(ctx).Ping().Err()
}

func (s *RedisSeen) Close() error {
	return s.Client.Close()
}
