package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// Service owns the relational connection. Postgres when DATABASE_URL is set,
// a local sqlite file otherwise so a dev checkout runs with zero setup.
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewService(baseLog *logger.Logger) (*Service, error) {
	log := baseLog.With("service", "DB")

	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		conn *gorm.DB
		err  error
	)
	if dsn := envutil.Str("DATABASE_URL", ""); dsn != "" {
		conn, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info("connected to postgres")
	} else {
		path := envutil.Str("SQLITE_PATH", "mnemos.db")
		conn, err = gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Warn("DATABASE_URL unset, using sqlite", "path", path)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(envutil.Int("DB_MAX_OPEN_CONNS", 25))
	sqlDB.SetMaxIdleConns(envutil.Int("DB_MAX_IDLE_CONNS", 5))
	sqlDB.SetConnMaxLifetime(envutil.Duration("DB_CONN_MAX_LIFETIME", time.Hour))

	return &Service{db: conn, log: log}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

// AutoMigrateAll keeps the schema current with the domain models.
func (s *Service) AutoMigrateAll() error {
	return s.db.AutoMigrate(
		&domain.PipelineRun{},
		&domain.StageJob{},
		&domain.RightsRecord{},
		&domain.SourceItem{},
		&domain.ContentUnit{},
		&domain.LexiconTerm{},
		&domain.StagedEntity{},
		&domain.StagedRelation{},
		&domain.MergeAudit{},
		&domain.EntityEmbedding{},
		&domain.Deliverable{},
	)
}

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
