// Package rediskv stores console sessions in Redis.
package rediskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Storage implements session.Storage with one Redis key per entry.
type Storage struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps rdb; keys are namespaced as "<prefix>:<key>".
func New(rdb redis.UniversalClient, prefix string) *Storage {
	if prefix == "" {
		prefix = "zippy:session"
	}
	return &Storage{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, prefix string) (*Storage, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, prefix), nil
}

func (s *Storage) Close() error {
	return s.rdb.Close()
}

func (s *Storage) key(k string) string {
	return s.prefix + ":" + k
}

func (s *Storage) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Set writes all entries inside MULTI/EXEC.
func (s *Storage) Set(ctx context.Context, entries map[string]string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, s.key(k), v, 0)
		}
		return nil
	})
	return err
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.rdb.Del(ctx, full...).Err()
}
