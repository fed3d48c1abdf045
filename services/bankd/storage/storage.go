package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrPathRequired is returned when the journal location is missing.
	ErrPathRequired = errors.New("bankd journal path must be configured")
	// ErrNotFound is returned when a transaction hash is not journaled.
	ErrNotFound = errors.New("bankd journal: record not found")
)

// Transaction outcomes.
const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

// TxRecord journals one submitted transaction and its outcome.
type TxRecord struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Hash      string        `gorm:"index" json:"hash"`
	Sender    string        `gorm:"index" json:"sender"`
	Nonce     uint64        `json:"nonce"`
	Target    string        `json:"target"`
	Method    string        `gorm:"index" json:"method"`
	Status    string        `gorm:"index" json:"status"`
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Result    string        `json:"result,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Events    []EventRecord `gorm:"foreignKey:TxID" json:"events"`
}

// EventRecord journals one event emitted by an applied transaction.
type EventRecord struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	TxID       uuid.UUID         `gorm:"type:uuid;index" json:"txId"`
	Sequence   int               `gorm:"not null" json:"sequence"`
	Type       string            `gorm:"index" json:"type"`
	Attributes map[string]string `gorm:"serializer:json" json:"attributes"`
	CreatedAt  time.Time         `gorm:"index" json:"createdAt"`
}

// Journal is the append-only record of processed transactions.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLiteFile opens a WAL-mode journal stored at path, creating the parent
// directory when needed.
func OpenSQLiteFile(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve journal path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return OpenSQLite("file:" + abs + "?" + filePragmas)
}

// filePragmas keep writers from failing fast while the journal is being read.
const filePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// OpenSQLite opens a journal over a SQLite DSN.
func OpenSQLite(dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrPathRequired
	}
	return open(sqlite.Open(dsn))
}

// OpenPostgres opens a journal over a PostgreSQL connection URL.
func OpenPostgres(url string) (*Journal, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrPathRequired
	}
	return open(postgres.Open(url))
}

func open(dialector gorm.Dialector) (*Journal, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&TxRecord{}, &EventRecord{})
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores a transaction together with its events in one database
// transaction. IDs and timestamps are assigned when unset.
func (j *Journal) Record(ctx context.Context, tx *TxRecord) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not configured")
	}
	if tx == nil {
		return fmt.Errorf("journal: nil record")
	}
	now := j.now().UTC()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	for i := range tx.Events {
		evt := &tx.Events[i]
		if evt.ID == uuid.Nil {
			evt.ID = uuid.New()
		}
		evt.TxID = tx.ID
		evt.Sequence = i
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = tx.CreatedAt
		}
	}
	return j.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return db.Create(tx).Error
	})
}

// Transaction returns the most recent journal entry for hash.
func (j *Journal) Transaction(ctx context.Context, hash string) (*TxRecord, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	var rec TxRecord
	err := j.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Where("hash = ?", strings.ToLower(strings.TrimSpace(hash))).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return &rec, nil
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Type  string
	Since time.Time
	Limit int
}

// ListEvents returns journaled events newest first.
func (j *Journal) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Model(&EventRecord{})
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	var out []EventRecord
	if err := query.Order("created_at DESC").Order("sequence DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}
