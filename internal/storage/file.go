package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"feedwatch/internal/feed"
	logx "feedwatch/pkg/logx"
)

// fileStore keeps the state as one JSON document.
//
// Save writes <path>.tmp-*, fsyncs it and renames it over <path>. A corrupt
// document found on Load is moved to <path>.corrupt-<unix> so it can be
// inspected later, unless the store is read-only.
type fileStore struct {
	log      logx.Logger
	path     string
	readOnly bool

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultPath
	}
	if cfg.ReadOnly {
		return &fileStore{log: log, path: path, readOnly: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (feed.State, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return feed.NewState(), nil
	}
	if err != nil {
		return feed.State{}, fmt.Errorf("read state: %w", err)
	}
	st, err := decodeState(b)
	if err != nil && s.readOnly {
		s.log.Warn("state corrupt; read-only, left in place", logx.String("path", s.path), logx.Err(err))
		return feed.NewState(), nil
	}
	if err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if rerr := os.Rename(s.path, quarantine); rerr != nil {
			s.log.Warn("state corrupt; starting empty", logx.String("path", s.path), logx.Err(err), logx.String("quarantine_err", rerr.Error()))
		} else {
			s.log.Warn("state corrupt; starting empty", logx.String("path", s.path), logx.String("moved_to", quarantine), logx.Err(err))
		}
		return feed.NewState(), nil
	}
	return st, nil
}

func (s *fileStore) Save(ctx context.Context, st feed.State) error {
	_ = ctx
	if s.readOnly {
		return ErrReadOnly
	}
	b, err := encodeState(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		cleanup()
		return err
	}
	syncDir(dir)
	return nil
}

func (s *fileStore) Close() error { return nil }

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
