package persistence

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

func init() {
	gob.Register(Record{})
}

var (
	_ Backend = (*SessionStore)(nil)
	_ Backend = (*FileStore)(nil)
)

// putNewer stores rec unless c holds a higher version. Callers serialise
// writes to c.
func putNewer(c *gocache.Cache, rec Record, d time.Duration) (prev any, had bool, err error) {
	prev, had = c.Get(rec.Key)
	if old, ok := prev.(Record); ok && old.Version > rec.Version {
		return prev, had, staleWrite(rec, old.Version)
	}
	c.Set(rec.Key, rec.clone(), d)
	return prev, had, nil
}

func getRecord(c *gocache.Cache, key string) (*Record, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, fmt.Errorf("record %s: %w", key, models.ErrNotFound)
	}
	rec, ok := v.(Record)
	if !ok {
		return nil, fmt.Errorf("record %s has unexpected type %T", key, v)
	}
	rec = rec.clone()
	return &rec, nil
}

// SessionStore is the session-scoped backup tier. Entries expire after the
// session ttl and do not survive a restart.
type SessionStore struct {
	cache *gocache.Cache
	mu    sync.Mutex
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{cache: gocache.New(ttl, ttl/2)}
}

func (s *SessionStore) Name() string { return "session" }

func (s *SessionStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, err := putNewer(s.cache, rec, gocache.DefaultExpiration)
	return err
}

func (s *SessionStore) Get(_ context.Context, key string) (*Record, error) {
	return getRecord(s.cache, key)
}

func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// FileStore is the flat key-value tier for single-node deployments. Every
// write snapshots the whole store to disk through a temp file and a rename.
type FileStore struct {
	logger *zap.Logger
	path   string
	cache  *gocache.Cache
	mu     sync.Mutex
}

// NewFileStore opens the store at path, loading a previous snapshot if one
// exists.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		logger: logger,
		path:   path,
		cache:  gocache.New(gocache.NoExpiration, 0),
	}
	if err := s.cache.LoadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	logger.Debug("File store opened", zap.String("path", path), zap.Int("records", s.cache.ItemCount()))
	return s, nil
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had, err := putNewer(s.cache, rec, gocache.NoExpiration)
	if err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		if had {
			s.cache.Set(rec.Key, prev, gocache.NoExpiration)
		} else {
			s.cache.Delete(rec.Key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (*Record, error) {
	return getRecord(s.cache, key)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Get(key); !ok {
		return nil
	}
	s.cache.Delete(key)
	return s.flush()
}

func (s *FileStore) flush() error {
	tmp := s.path + ".tmp"
	if err := s.cache.SaveFile(tmp); err != nil {
		s.logger.Error("Failed to write snapshot", zap.String("path", tmp), zap.Error(err))
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}
