package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
)

// fakeRedis is an in-memory redis.RedisClient shared by several services to
// model replicas talking to one server. Expirations are recorded, not enforced.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (r *fakeRedis) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (r *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = fmt.Sprint(value)
	r.ttl[key] = expiration
	return nil
}

func (r *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[key]; ok {
		return false, nil
	}
	r.data[key] = fmt.Sprint(value)
	r.ttl[key] = expiration
	return true, nil
}

func (r *fakeRedis) Del(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	delete(r.ttl, key)
	return nil
}

func (r *fakeRedis) Close() error { return nil }

func (r *fakeRedis) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.data[key]
	return ok
}
