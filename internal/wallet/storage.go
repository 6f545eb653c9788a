// storage.go - Durable wallet state.
//
// The wallet hands its state to a Storage as one opaque CBOR blob and keeps
// application key/value pairs beside it. Save must be atomic: after a crash
// either the old or the new state is readable, never a mix.

package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Storage persists one wallet.
type Storage interface {
	// Load returns the last saved state, or nil if nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, state []byte) error
	SetAppData(ctx context.Context, data map[string]string) error
	// GetAppData returns the values of the requested keys that exist.
	GetAppData(ctx context.Context, keys []string) (map[string]string, error)
}

const (
	stateFile   = "wallet.cbor"
	appDataFile = "appdata.json"
)

// FileStorage keeps the state and the app data in two files under one
// directory, both replaced with write-temp-then-rename.
type FileStorage struct {
	mu  sync.Mutex
	dir string
}

// NewFileStorage returns a storage rooted at dir, creating it if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create wallet directory")
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, errors.Wrap(err, "read wallet state")
}

func (s *FileStorage) Save(_ context.Context, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(filepath.Join(s.dir, stateFile), state)
}

func (s *FileStorage) SetAppData(_ context.Context, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAppData()
	if err != nil {
		return err
	}
	for k, v := range data {
		all[k] = v
	}
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode app data")
	}
	return writeAtomic(filepath.Join(s.dir, appDataFile), raw)
}

func (s *FileStorage) GetAppData(_ context.Context, keys []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAppData()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *FileStorage) readAppData() (map[string]string, error) {
	all := make(map[string]string)
	raw, err := os.ReadFile(filepath.Join(s.dir, appDataFile))
	if os.IsNotExist(err) {
		return all, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read app data")
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, errors.Wrap(err, "decode app data")
	}
	return all, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Base(path))
	}
	return errors.Wrapf(os.Rename(tmp, path), "replace %s", filepath.Base(path))
}

// RedisStorage keeps the state under <prefix>state and the app data in the
// hash <prefix>appdata. SET replaces the state in one step.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage namespaces one wallet by name.
func NewRedisStorage(client *redis.Client, name string) *RedisStorage {
	return &RedisStorage{client: client, prefix: "utt:wallet:" + name + ":"}
}

func (s *RedisStorage) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+"state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, errors.Wrap(err, "redis get wallet state")
}

func (s *RedisStorage) Save(ctx context.Context, state []byte) error {
	return errors.Wrap(s.client.Set(ctx, s.prefix+"state", state, 0).Err(), "redis set wallet state")
}

func (s *RedisStorage) SetAppData(ctx context.Context, data map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(data))
	for k, v := range data {
		values[k] = v
	}
	return errors.Wrap(s.client.HSet(ctx, s.prefix+"appdata", values).Err(), "redis set app data")
}

func (s *RedisStorage) GetAppData(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.HMGet(ctx, s.prefix+"appdata", keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis get app data")
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}
