package storage

import (
	"context"
	"errors"
	"strings"

	"feedwatch/internal/feed"
	logx "feedwatch/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log)
	if err != nil || !cfg.ReadOnly {
		return st, err
	}
	return readOnlyStore{Store: st}, nil
}

func open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// readOnlyStore refuses writes to the wrapped store.
type readOnlyStore struct {
	Store
}

func (readOnlyStore) Save(context.Context, feed.State) error { return ErrReadOnly }
