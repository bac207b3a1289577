package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrHasChildren = errors.New("group is not empty")
	ErrInvalid     = errors.New("invalid input")
)

// CredentialSealer encrypts secrets before they are written and decrypts
// them on read.
type CredentialSealer interface {
	Seal(plaintext string) (string, error)
	Open(token string) (string, error)
}

// Store is the persistence layer for the server tree, proxies, settings and
// the audit trail.
type Store struct {
	db     *gorm.DB
	sealer CredentialSealer
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	return New(db)
}

// New migrates db and seeds the default group tree when it is empty.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Node{}, &ProxyConfig{}, &Setting{}, &SSHAuditLog{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	s := &Store{db: db}
	if err := s.seedDefaults(); err != nil {
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for packages that own their own tables.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SetSealer installs the credential sealer. Until one is set secrets are
// stored as given.
func (s *Store) SetSealer(sealer CredentialSealer) {
	s.sealer = sealer
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var defaultGroups = []Node{
	{ID: "production", IsGroup: true, Name: "Production", Description: "Production servers"},
	{ID: "test", IsGroup: true, Name: "Test", Description: "Test environment servers"},
	{ID: "dev", IsGroup: true, Name: "Development", Description: "Development servers"},
	{ID: "web-servers", IsGroup: true, ParentID: "production", Name: "Web Servers", Description: "Web application servers"},
	{ID: "db-servers", IsGroup: true, ParentID: "production", Name: "Database Servers", Description: "Database servers"},
}

func (s *Store) seedDefaults() error {
	var count int64
	if err := s.db.Model(&Node{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, g := range defaultGroups {
		if err := s.db.Create(&g).Error; err != nil {
			return fmt.Errorf("seed group %s: %w", g.ID, err)
		}
	}
	log.Printf("[db] seeded %d default groups", len(defaultGroups))
	return nil
}

func (s *Store) GetSetting(key string) (string, error) {
	var st Setting
	if err := s.db.Where("key = ?", key).First(&st).Error; err != nil {
		return "", notFound(err)
	}
	return st.Value, nil
}

func (s *Store) SetSetting(key, value string) error {
	return s.db.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func (s *Store) seal(v string) (string, error) {
	if s.sealer == nil || v == "" {
		return v, nil
	}
	return s.sealer.Seal(v)
}

func (s *Store) open(v string) (string, error) {
	if s.sealer == nil || v == "" {
		return v, nil
	}
	return s.sealer.Open(v)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
