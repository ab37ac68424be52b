package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the committed offset per run key.
type Store interface {
	// Load returns the committed offset and whether one exists.
	Load(ctx context.Context, key string) (int64, bool, error)
	Commit(ctx context.Context, key string, offset int64) error
	Close() error
}

// Nop keeps nothing; resume always starts from the configured offset.
type Nop struct{}

func (Nop) Load(context.Context, string) (int64, bool, error) { return 0, false, nil }
func (Nop) Commit(context.Context, string, int64) error       { return nil }
func (Nop) Close() error                                      { return nil }

type fileEntry struct {
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore keeps all keys in one JSON document, replaced atomically on
// every commit.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("checkpoint: empty file path")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) read() (map[string]fileEntry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]fileEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := map[string]fileEntry{}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("checkpoint file %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *FileStore) Load(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return 0, false, err
	}
	e, ok := entries[key]
	return e.Offset, ok, nil
}

func (s *FileStore) Commit(_ context.Context, key string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = fileEntry{Offset: offset, UpdatedAt: time.Now().UTC()}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Close() error { return nil }

// RedisStore keeps one string key per run key under a prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) (int64, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *RedisStore) Commit(ctx context.Context, key string, offset int64) error {
	return s.client.Set(ctx, s.prefix+key, offset, 0).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
