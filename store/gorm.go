package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/internal/database"
	"github.com/BaSui01/sagaflow/internal/migration"
	"github.com/BaSui01/sagaflow/workflow"
)

// executionModel is the executions table row.
type executionModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	DefinitionName    string `gorm:"size:255;index"`
	DefinitionVersion string `gorm:"size:64"`
	Status            string `gorm:"size:32;index"`
	Context           string `gorm:"type:text"`
	StartedAt         time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (executionModel) TableName() string { return "workflow_executions" }

// stepModel is one append-only step log row.
type stepModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExecutionID string `gorm:"size:64;index"`
	StepID      string `gorm:"size:255"`
	Attempt     int
	Status      string `gorm:"size:32"`
	StartedAt   time.Time
	FinishedAt  *time.Time
	Output      string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (stepModel) TableName() string { return "workflow_execution_steps" }

// Gorm is a SQL-backed ExecutionStore covering postgres, mysql, and
// sqlite through GORM.
type Gorm struct {
	db     *gorm.DB
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGorm opens the configured SQL backend and applies the connection
// pool settings. With cfg.Migrate set, the schema is created or updated
// on startup.
func NewGorm(cfg config.StoreConfig, logger *zap.Logger) (*Gorm, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql store type: %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Type, err)
	}

	pm, err := database.NewPoolManager(db, cfg.Pool, logger)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, and an in-memory database is
	// per-connection, so the pool must not fan out.
	if cfg.Type == "sqlite" && cfg.Pool.MaxOpenConns == 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Gorm{db: db, pool: pm, logger: logger.With(zap.String("component", "sql_store"))}
	if cfg.Migrate {
		if err := s.Migrate(cfg.Type); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewGormFromDB wraps an already-open GORM handle. Used by tests that
// drive the store against sqlmock or an in-memory sqlite database.
func NewGormFromDB(db *gorm.DB, logger *zap.Logger) *Gorm {
	return &Gorm{db: db, logger: logger.With(zap.String("component", "sql_store"))}
}

// Migrate brings the schema up to date: versioned SQL migrations for
// postgres and mysql, AutoMigrate for the embedded sqlite backend.
func (s *Gorm) Migrate(storeType string) error {
	switch storeType {
	case "postgres", "mysql":
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return migration.Run(sqlDB, storeType)
	default:
		return s.AutoMigrate()
	}
}

// AutoMigrate creates the schema from the models.
func (s *Gorm) AutoMigrate() error {
	return s.db.AutoMigrate(&executionModel{}, &stepModel{})
}

// Create implements workflow.ExecutionStore.
func (s *Gorm) Create(ctx context.Context, exec *workflow.WorkflowExecution) error {
	contextJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	row := executionModel{
		ID:                exec.ID,
		DefinitionName:    exec.DefinitionName,
		DefinitionVersion: exec.DefinitionVersion,
		Status:            string(exec.Status),
		Context:           string(contextJSON),
		StartedAt:         exec.StartedAt,
		Version:           exec.Version,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return workflow.ErrExecutionExists
			}
			return err
		}
		for _, step := range exec.Steps {
			stepRow, err := toStepModel(exec.ID, step)
			if err != nil {
				return err
			}
			if err := tx.Create(&stepRow).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Load implements workflow.ExecutionStore.
func (s *Gorm) Load(ctx context.Context, executionID string) (*workflow.WorkflowExecution, error) {
	var row executionModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.ErrExecutionNotFound
		}
		return nil, err
	}

	exec := &workflow.WorkflowExecution{
		ID:                row.ID,
		DefinitionName:    row.DefinitionName,
		DefinitionVersion: row.DefinitionVersion,
		Status:            workflow.ExecutionStatus(row.Status),
		Context:           make(map[string]any),
		StartedAt:         row.StartedAt,
		Version:           row.Version,
	}
	if row.Context != "" {
		if err := json.Unmarshal([]byte(row.Context), &exec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context for %s: %w", executionID, err)
		}
	}

	var stepRows []stepModel
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id asc").
		Find(&stepRows).Error; err != nil {
		return nil, err
	}
	for _, sr := range stepRows {
		step, err := fromStepModel(sr)
		if err != nil {
			return nil, err
		}
		exec.Steps = append(exec.Steps, step)
	}
	return exec, nil
}

// AppendStep implements workflow.ExecutionStore.
func (s *Gorm) AppendStep(ctx context.Context, executionID string, step workflow.StepExecution) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ?", executionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return workflow.ErrExecutionNotFound
	}

	row, err := toStepModel(executionID, step)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// CompareAndSwapStatus implements workflow.ExecutionStore. The version
// guard rides in the WHERE clause, so the swap is atomic at the row
// level on every backend.
func (s *Gorm) CompareAndSwapStatus(ctx context.Context, executionID string, expectedVersion int64, newStatus workflow.ExecutionStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ? AND version = ?", executionID, expectedVersion).
		Updates(map[string]any{
			"status":  string(newStatus),
			"version": expectedVersion + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ?", executionID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, workflow.ErrExecutionNotFound
	}
	return false, nil
}

// Close implements workflow.ExecutionStore.
func (s *Gorm) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toStepModel(executionID string, step workflow.StepExecution) (stepModel, error) {
	var output string
	if step.Output != nil {
		raw, err := json.Marshal(step.Output)
		if err != nil {
			return stepModel{}, fmt.Errorf("marshal step output: %w", err)
		}
		output = string(raw)
	}
	return stepModel{
		ExecutionID: executionID,
		StepID:      step.StepID,
		Attempt:     step.Attempt,
		Status:      string(step.Status),
		StartedAt:   step.StartedAt,
		FinishedAt:  step.FinishedAt,
		Output:      output,
		Error:       step.Error,
	}, nil
}

func fromStepModel(row stepModel) (workflow.StepExecution, error) {
	step := workflow.StepExecution{
		StepID:     row.StepID,
		Attempt:    row.Attempt,
		Status:     workflow.StepStatus(row.Status),
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Error:      row.Error,
	}
	if row.Output != "" {
		var output any
		if err := json.Unmarshal([]byte(row.Output), &output); err != nil {
			return step, fmt.Errorf("unmarshal step output: %w", err)
		}
		step.Output = output
	}
	return step, nil
}

var _ workflow.ExecutionStore = (*Gorm)(nil)
