package storage

import (
	"context"
	"errors"
	"time"

	"feedwatch/internal/feed"
)

// Store is the state persistence API used by the engine.
//
// Load returns a fresh empty state (and nil error) when nothing was saved yet
// or when the saved record is corrupt. It returns an error only when the
// backend itself is unreachable, so the caller can skip the cycle instead of
// mistaking an outage for an empty state.
type Store interface {
	Load(ctx context.Context) (feed.State, error)
	Save(ctx context.Context, st feed.State) error
	Close() error
}

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "redis", "memory".
//
// ReadOnly opens the store for inspection: nothing is created, a corrupt
// record is left where it is, and Save returns ErrReadOnly.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
	ReadOnly    bool
}

// ErrReadOnly is returned by Save on a store opened with Config.ReadOnly.
var ErrReadOnly = errors.New("storage is read-only")

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

const (
	defaultPath     = "./data/feedwatch_state.json"
	defaultRedisKey = "feedwatch:state"
)
