package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SourceItem is one raw input handed to CreateRun.
type SourceItem struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"run_id"`
	URI       string         `gorm:"column:uri;not null" json:"uri"`
	Kind      string         `gorm:"column:kind" json:"kind,omitempty"`
	Title     string         `gorm:"column:title" json:"title,omitempty"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

func (SourceItem) TableName() string { return "source_item" }

// ContentUnit is the intake stage's normalized output: one addressable slice
// of content. Once the rights stage has run, every unit carries the run's
// rights record id; units that still lack one at graph time are excluded.
type ContentUnit struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RunID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"run_id"`
	SourceItemID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"source_item_id"`
	Seq            int        `gorm:"column:seq;not null" json:"seq"`
	Text           string     `gorm:"column:text;not null" json:"text"`
	RightsRecordID *uuid.UUID `gorm:"type:uuid;column:rights_record_id;index" json:"rights_record_id,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
}

func (ContentUnit) TableName() string { return "content_unit" }

// LexiconTerm is a canonical vocabulary term collected during the lexicon
// stage. Lexicon nodes are legitimately isolated in the graph.
type LexiconTerm struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_lexicon_term_run_term" json:"run_id"`
	Term      string    `gorm:"column:term;not null;uniqueIndex:uq_lexicon_term_run_term" json:"term"`
	Count     int       `gorm:"column:count;not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (LexiconTerm) TableName() string { return "lexicon_term" }
