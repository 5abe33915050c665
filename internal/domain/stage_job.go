package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage job statuses. "queued" and "claimed" are the in-flight states the
// watchdog's duplicate-dispatch guard cares about.
const (
	JobQueued  = "queued"
	JobClaimed = "claimed"
	JobDone    = "done"
	JobFailed  = "failed"
)

// StageJob is one durable queue row: execute <stage> for <run>. Workers claim
// jobs with a CAS update; execution is at-least-once, so stage logic must be
// idempotent against its run+stage pair.
type StageJob struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RunID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_stage_job_run_stage" json:"run_id"`
	Stage       string     `gorm:"column:stage;not null;index:idx_stage_job_run_stage" json:"stage"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NotBefore   *time.Time `gorm:"column:not_before;index" json:"not_before,omitempty"`
	ClaimedAt   *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	Error       string     `gorm:"column:error" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (StageJob) TableName() string { return "stage_job" }
