package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/types"
)

// GormStore is a Store backed by a relational database through GORM.
type GormStore struct {
	db        *gorm.DB
	logger    *zap.Logger
	collector *metrics.Collector
}

// OpenGorm connects to the database selected by cfg and returns a store over
// it. When cfg.AutoMigrate is set the schema is created or updated from the
// record structs; server deployments normally disable it and run the
// versioned migrations in store/migration instead.
func OpenGorm(cfg config.StoreConfig, logger *zap.Logger, collector *metrics.Collector) (*GormStore, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrStore, "connect database").WithOp("store.OpenGorm").WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, types.NewError(types.ErrStore, "access connection pool").WithOp("store.OpenGorm").WithCause(err)
	}
	if cfg.Driver == "sqlite" {
		// One connection only: a pool would hand each conn its own
		// :memory: database, and file databases serialize writers anyway.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&RunRecord{}, &WorkflowRecord{}, &Snapshot{}); err != nil {
			return nil, types.NewError(types.ErrStore, "auto migrate schema").WithOp("store.OpenGorm").WithCause(err)
		}
	}

	st := NewGormStore(db, logger, collector)
	st.logger.Info("store connected", zap.String("driver", cfg.Driver))
	return st, nil
}

// NewGormStore wraps an already-open GORM handle. The caller keeps schema
// responsibility.
func NewGormStore(db *gorm.DB, logger *zap.Logger, collector *metrics.Collector) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:        db,
		logger:    logger.With(zap.String("component", "store")),
		collector: collector,
	}
}

func dialectorFor(cfg config.StoreConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DSN()), nil
	case "mysql":
		return mysql.Open(cfg.DSN()), nil
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unsupported store driver %q", cfg.Driver))
	}
}

// SaveRun inserts a run record, assigning an ID and start time when unset.
func (s *GormStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return types.NewValidationError("run record is nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Create(rec).Error
	s.observe("save_run", start)
	if err != nil {
		return types.NewError(types.ErrStore, "save run").WithOp("store.SaveRun").WithCause(err)
	}
	return nil
}

// GetRun loads a run record by ID.
func (s *GormStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	start := time.Now()
	var rec RunRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	s.observe("get_run", start)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, types.NewError(types.ErrStore, "get run").WithOp("store.GetRun").WithCause(err)
	}
	return &rec, nil
}

// ListRuns returns run records newest first. A non-positive limit returns
// every record.
func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	start := time.Now()
	q := s.db.WithContext(ctx).Order("started_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []*RunRecord
	err := q.Find(&recs).Error
	s.observe("list_runs", start)
	if err != nil {
		return nil, types.NewError(types.ErrStore, "list runs").WithOp("store.ListRuns").WithCause(err)
	}
	return recs, nil
}

// SaveWorkflow inserts or replaces a workflow definition.
func (s *GormStore) SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if rec == nil {
		return types.NewValidationError("workflow record is nil")
	}
	if rec.ID == "" {
		return types.NewValidationError("workflow record id is required")
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.ModifiedAt = now

	start := time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
	s.observe("save_workflow", start)
	if err != nil {
		return types.NewError(types.ErrStore, "save workflow").WithOp("store.SaveWorkflow").WithCause(err)
	}
	return nil
}

// GetWorkflow loads a workflow definition by ID.
func (s *GormStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	start := time.Now()
	var rec WorkflowRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	s.observe("get_workflow", start)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, types.NewError(types.ErrStore, "get workflow").WithOp("store.GetWorkflow").WithCause(err)
	}
	return &rec, nil
}

// SaveSnapshot inserts a checkpoint snapshot for a run.
func (s *GormStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return types.NewValidationError("snapshot is nil")
	}
	if snap.RunID == "" {
		return types.NewValidationError("snapshot run id is required")
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Create(snap).Error
	s.observe("save_snapshot", start)
	if err != nil {
		return types.NewError(types.ErrStore, "save snapshot").WithOp("store.SaveSnapshot").WithCause(err)
	}
	return nil
}

// ListSnapshots returns a run's snapshots oldest first.
func (s *GormStore) ListSnapshots(ctx context.Context, runID string) ([]*Snapshot, error) {
	start := time.Now()
	var snaps []*Snapshot
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&snaps).Error
	s.observe("list_snapshots", start)
	if err != nil {
		return nil, types.NewError(types.ErrStore, "list snapshots").WithOp("store.ListSnapshots").WithCause(err)
	}
	return snaps, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return types.NewError(types.ErrStore, "access connection pool").WithOp("store.Close").WithCause(err)
	}
	return sqlDB.Close()
}

func (s *GormStore) observe(operation string, start time.Time) {
	if s.collector != nil {
		s.collector.RecordStoreQuery(operation, time.Since(start))
	}
}

var _ Store = (*GormStore)(nil)
