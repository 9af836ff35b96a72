package cachestore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMiss is returned by GetJSON when there is no cached value.
var ErrMiss = errors.New("cache miss")

// CacheStore holds string values grouped by name. A missing key is returned as the empty string with no error.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

func GetJSON[T any](ctx context.Context, cs CacheStore, name, key string) (*T, error) {
	raw, err := cs.Get(ctx, name, key)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, ErrMiss
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func SetJSON(ctx context.Context, cs CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return cs.Set(ctx, name, key, string(b))
}
