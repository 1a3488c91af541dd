package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/modelbench-go/internal/coordinator/queue"
)

// jobRecord is the relational shape of a terminal job.
type jobRecord struct {
	ID          string `gorm:"primaryKey"`
	JobType     string `gorm:"index"`
	Status      string `gorm:"index"`
	Priority    int
	Payload     []byte
	Metadata    []byte
	Result      []byte
	Error       string
	Tasks       []byte
	DoneTasks   int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (jobRecord) TableName() string { return "job_history" }

// SQLArchive keeps terminal jobs in a relational store. The in-memory queue
// keeps the hot path; the archive keeps history past ring eviction.
type SQLArchive struct {
	db *gorm.DB
}

type SQLArchiveConfig struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
}

func NewSQLArchive(cfg SQLArchiveConfig) (*SQLArchive, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate job history: %w", err)
	}

	return &SQLArchive{db: db}, nil
}

func (a *SQLArchive) ArchiveJob(ctx context.Context, job *queue.Job) error {
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	return a.db.WithContext(ctx).Save(rec).Error
}

func (a *SQLArchive) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	var rec jobRecord
	err := a.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job history: %w", err)
	}
	return fromRecord(&rec)
}

func (a *SQLArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(job *queue.Job) (*jobRecord, error) {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tasks, err := json.Marshal(job.Tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task list: %w", err)
	}

	return &jobRecord{
		ID:          job.ID,
		JobType:     job.JobType,
		Status:      string(job.Status),
		Priority:    job.Priority,
		Payload:     job.Payload,
		Metadata:    metadata,
		Result:      job.Result,
		Error:       job.Error,
		Tasks:       tasks,
		DoneTasks:   job.DoneTasks,
		MaxRetries:  job.MaxRetries,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

func fromRecord(rec *jobRecord) (*queue.Job, error) {
	job := &queue.Job{
		ID:          rec.ID,
		JobType:     rec.JobType,
		Status:      queue.JobStatus(rec.Status),
		Priority:    rec.Priority,
		Payload:     rec.Payload,
		Result:      rec.Result,
		Error:       rec.Error,
		DoneTasks:   rec.DoneTasks,
		MaxRetries:  rec.MaxRetries,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(rec.Tasks) > 0 {
		if err := json.Unmarshal(rec.Tasks, &job.Tasks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task list: %w", err)
		}
	}
	return job, nil
}
