package sshaudit

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/logutil"
)

// Event types for SSH audit logging.
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionTerminated  = "connection_terminated"
	EventConnectionFailed      = "connection_failed"
	EventCommandExecution      = "command_execution"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// AuditEntry contains the fields needed to create an audit log entry.
type AuditEntry struct {
	ServerID   string
	Identity   string
	EventType  string
	Username   string
	SourceIP   string
	Details    string
	DurationMs int64
}

// Auditor provides methods for recording and querying SSH audit logs.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewAuditor creates a new Auditor that writes to the given database.
// If retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log records an audit event to the database and standard logger.
func (a *Auditor) Log(entry AuditEntry) error {
	a.mu.RLock()
	now := a.nowFn()
	a.mu.RUnlock()

	record := database.SSHAuditLog{
		ServerID:  entry.ServerID,
		Identity:  entry.Identity,
		EventType: entry.EventType,
		Username:  entry.Username,
		SourceIP:  entry.SourceIP,
		Details:   entry.Details,
		Duration:  entry.DurationMs,
		CreatedAt: now,
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[ssh-audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[ssh-audit] %s server=%s identity=%s user=%s details=%s",
		entry.EventType,
		logutil.SanitizeForLog(entry.ServerID),
		logutil.SanitizeForLog(entry.Identity),
		logutil.SanitizeForLog(entry.Username),
		logutil.Preview(entry.Details, 200),
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	ServerID  string
	Identity  string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.SSHAuditLog `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Query retrieves audit log entries matching the given options, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.SSHAuditLog{})

	if opts.ServerID != "" {
		tx = tx.Where("server_id = ?", opts.ServerID)
	}
	if opts.Identity != "" {
		tx = tx.Where("identity = ?", opts.Identity)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.SSHAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or older than the
// configured retention period when days is not positive. Returns the number
// of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	a.mu.RLock()
	cutoff := a.nowFn().AddDate(0, 0, -days)
	a.mu.RUnlock()

	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SSHAuditLog{})
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nowFn = fn
}
