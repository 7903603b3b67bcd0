package relayer

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// JobState is a step in a withdraw job's lifecycle.
type JobState string

const (
	JobPending JobState = "PENDING"
	JobDone    JobState = "DONE"
	JobFailed  JobState = "FAILED"
)

// Job journals one withdraw request awaiting finalization.
type Job struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestID uint64    `gorm:"uniqueIndex;not null"`
	Recipient string
	Handle    string   `gorm:"not null"`
	State     JobState `gorm:"index;not null"`
	Attempts  int
	LastError string
	// Outcome records how a finished job ended.
	Outcome   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cursor stores the last event sequence a relayer has scanned.
type Cursor struct {
	Name      string `gorm:"primaryKey"`
	Sequence  uint64
	UpdatedAt time.Time
}

// AutoMigrate creates or updates the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{}, &Cursor{})
}

// OpenJournal opens the job journal. DSNs starting with postgres:// or
// postgresql:// use Postgres; anything else is treated as a sqlite path or
// URI.
func OpenJournal(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("relayer: journal dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("relayer: open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("relayer: migrate journal: %w", err)
	}
	return db, nil
}
