package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StagedEntity is extraction output parked in Postgres by the pools stage and
// consumed by the graph stage. CanonicalKey is the merge identity within a
// pool: two staged entities with the same (pool, canonical key) describe the
// same real-world thing.
type StagedEntity struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_staged_entity_run_pool_key" json:"run_id"`
	Pool           Pool           `gorm:"column:pool;not null;uniqueIndex:uq_staged_entity_run_pool_key" json:"pool"`
	CanonicalKey   string         `gorm:"column:canonical_key;not null;uniqueIndex:uq_staged_entity_run_pool_key" json:"canonical_key"`
	Label          string         `gorm:"column:label;not null" json:"label"`
	ReprText       string         `gorm:"column:repr_text" json:"repr_text"`
	ValidFrom      *time.Time     `gorm:"column:valid_from" json:"valid_from,omitempty"`
	ValidTo        *time.Time     `gorm:"column:valid_to" json:"valid_to,omitempty"`
	Attributes     datatypes.JSON `gorm:"column:attributes;type:jsonb" json:"attributes"`
	Confidence     float64        `gorm:"column:confidence;not null;default:0" json:"confidence"`
	RightsRecordID *uuid.UUID     `gorm:"type:uuid;column:rights_record_id;index" json:"rights_record_id,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (StagedEntity) TableName() string { return "staged_entity" }

// StagedRelation references its endpoints by (pool, canonical key), not row
// id, so the graph loader can resolve endpoints after deduplication.
type StagedRelation struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_staged_relation_identity" json:"run_id"`
	SourcePool Pool      `gorm:"column:source_pool;not null;uniqueIndex:uq_staged_relation_identity" json:"source_pool"`
	SourceKey  string    `gorm:"column:source_key;not null;uniqueIndex:uq_staged_relation_identity" json:"source_key"`
	TargetPool Pool      `gorm:"column:target_pool;not null;uniqueIndex:uq_staged_relation_identity" json:"target_pool"`
	TargetKey  string    `gorm:"column:target_key;not null;uniqueIndex:uq_staged_relation_identity" json:"target_key"`
	Verb       string    `gorm:"column:verb;not null;uniqueIndex:uq_staged_relation_identity" json:"verb"`
	Evidence   string    `gorm:"column:evidence" json:"evidence,omitempty"`
	Confidence float64   `gorm:"column:confidence;not null;default:0" json:"confidence"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (StagedRelation) TableName() string { return "staged_relation" }

// MergeAudit records one dedup merge: which node survived, which was folded
// into it, and what moved.
type MergeAudit struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	Pool        Pool           `gorm:"column:pool;not null" json:"pool"`
	SurvivorKey string         `gorm:"column:survivor_key;not null" json:"survivor_key"`
	MergedKey   string         `gorm:"column:merged_key;not null" json:"merged_key"`
	Details     datatypes.JSON `gorm:"column:details;type:jsonb" json:"details"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

func (MergeAudit) TableName() string { return "merge_audit" }

// CanonicalKey normalizes a label into the merge identity used across
// staging, dedup, and the graph store.
func CanonicalKey(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(label))), "_")
}
