package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntityEmbedding is one vector per staged entity, written by the embeddings
// stage. Vector is a JSON float array; dims is recorded so a model change is
// detectable.
type EntityEmbedding struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_entity_embedding_identity" json:"run_id"`
	Pool         Pool           `gorm:"column:pool;not null;uniqueIndex:uq_entity_embedding_identity" json:"pool"`
	CanonicalKey string         `gorm:"column:canonical_key;not null;uniqueIndex:uq_entity_embedding_identity" json:"canonical_key"`
	Dims         int            `gorm:"column:dims;not null" json:"dims"`
	Vector       datatypes.JSON `gorm:"column:vector;type:jsonb" json:"vector"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
}

func (EntityEmbedding) TableName() string { return "entity_embedding" }

// Deliverable kinds produced by the final stage.
const (
	DeliverableRunSummary     = "run_summary"
	DeliverableLiteracyReport = "literacy_report"
	DeliverableGraphManifest  = "graph_manifest"
)

// Deliverable is a finished artifact of a completed run.
type Deliverable struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_deliverable_run_kind" json:"run_id"`
	Kind      string         `gorm:"column:kind;not null;uniqueIndex:uq_deliverable_run_kind" json:"kind"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

func (Deliverable) TableName() string { return "deliverable" }
