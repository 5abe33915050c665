package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ordered ingestion stages. A run walks these strictly in order; stage N+1
// never starts before stage N completed for that run.
const (
	StageIntake       = "intake"
	StageRights       = "rights"
	StageLexicon      = "lexicon"
	StagePools        = "pools"
	StageGraph        = "graph"
	StageEmbeddings   = "embeddings"
	StageLiteracy     = "literacy"
	StageDeliverables = "deliverables"
)

// Run statuses. Transitions are CAS-guarded; see repos.PipelineRunRepo.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunRetrying  = "retrying"
	RunPaused    = "paused"
	RunFailed    = "failed"
	RunCompleted = "completed"
)

var stageOrder = []string{
	StageIntake,
	StageRights,
	StageLexicon,
	StagePools,
	StageGraph,
	StageEmbeddings,
	StageLiteracy,
	StageDeliverables,
}

func Stages() []string {
	out := make([]string, len(stageOrder))
	copy(out, stageOrder)
	return out
}

func FirstStage() string { return stageOrder[0] }

// NextStage returns the stage after the given one, or ("", false) when the
// given stage is terminal or unknown.
func NextStage(stage string) (string, bool) {
	for i, s := range stageOrder {
		if s == stage {
			if i+1 < len(stageOrder) {
				return stageOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func ValidStage(stage string) bool {
	for _, s := range stageOrder {
		if s == stage {
			return true
		}
	}
	return false
}

// PipelineRun tracks one ingestion's progress through the stage sequence.
// Created by the orchestrator, mutated only by the stage executor and the
// watchdog, archived (soft-deleted) but never hard-deleted.
type PipelineRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	KnowledgeBaseID uuid.UUID      `gorm:"type:uuid;not null;index" json:"knowledge_base_id"`
	Stage           string         `gorm:"column:stage;not null;index" json:"stage"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	StageStartedAt  *time.Time     `gorm:"column:stage_started_at" json:"stage_started_at,omitempty"`
	RetryCount      int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries      int            `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	SourceItemCount int            `gorm:"column:source_item_count;not null;default:0" json:"source_item_count"`
	Metrics         datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`
	LastErrorAt     *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	FailureTerminal bool           `gorm:"column:failure_terminal;not null;default:false" json:"failure_terminal,omitempty"`
	GatesRanAt      *time.Time     `gorm:"column:gates_ran_at" json:"gates_ran_at,omitempty"`
	GatesPassed     *bool          `gorm:"column:gates_passed" json:"gates_passed,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PipelineRun) TableName() string { return "pipeline_run" }

// Active reports whether the watchdog should still be observing this run.
func (r *PipelineRun) Active() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case RunCompleted:
		return r.GatesRanAt == nil
	case RunFailed:
		return true
	default:
		return true
	}
}
