package testutil

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/dbctx"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// OpenDB returns an isolated in-memory sqlite database with the full schema
// migrated. Each call gets its own database, so tests stay independent.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
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
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Logger returns a quiet logger for tests.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// Ctx wraps a background context for repo calls.
func Ctx() dbctx.Context {
	return dbctx.New(context.Background())
}
