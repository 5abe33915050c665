package domain

import (
	"time"

	"github.com/google/uuid"
)

// Consent statuses carried on a rights record.
const (
	ConsentGranted  = "granted"
	ConsentDeclined = "declined"
	ConsentUnknown  = "unknown"
)

// RightsRecord is created once per ingestion context before extraction begins
// and is referenced, never mutated, by every entity created in that context.
// Many entities share one record; none owns it.
type RightsRecord struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RunID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"run_id"`
	KnowledgeBaseID uuid.UUID  `gorm:"type:uuid;not null;index" json:"knowledge_base_id"`
	ConsentStatus   string     `gorm:"column:consent_status;not null" json:"consent_status"`
	LicenseType     string     `gorm:"column:license_type;not null" json:"license_type"`
	Trainable       bool       `gorm:"column:trainable;not null;default:false" json:"trainable"`
	Publishable     bool       `gorm:"column:publishable;not null;default:false" json:"publishable"`
	EmbargoDate     *time.Time `gorm:"column:embargo_date" json:"embargo_date,omitempty"`
	Confidence      float64    `gorm:"column:confidence;not null;default:0" json:"confidence"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
}

func (RightsRecord) TableName() string { return "rights_record" }
