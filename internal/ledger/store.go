package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileStore keeps the snapshot in a single file replaced atomically on save.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return data, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// RedisStore keeps the snapshot under a single redis key.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a store writing to key.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// SnapshotRecord is the table row holding one ledger snapshot.
type SnapshotRecord struct {
	Handle    string `gorm:"primaryKey;size:128"`
	Data      []byte
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (SnapshotRecord) TableName() string {
	return "ledger_snapshots"
}

// GormStore keeps the snapshot in a row of the ledger_snapshots table.
type GormStore struct {
	db     *gorm.DB
	handle string
}

// NewGormStore creates a store for handle and migrates its table.
func NewGormStore(db *gorm.DB, handle string) (*GormStore, error) {
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate ledger_snapshots: %w", err)
	}
	return &GormStore{db: db, handle: handle}, nil
}

// Load implements Store.
func (s *GormStore) Load(ctx context.Context) ([]byte, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).Where("handle = ?", s.handle).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.handle, err)
	}
	return rec.Data, nil
}

// Save implements Store.
func (s *GormStore) Save(ctx context.Context, data []byte) error {
	rec := SnapshotRecord{Handle: s.handle, Data: data, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "handle"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.handle, err)
	}
	return nil
}

// MemoryStore keeps the snapshot in memory. Used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	// Err, when set, is returned by Save.
	Err error
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.data = append([]byte(nil), data...)
	return nil
}
