package admission

import "time"

// VerdictRecord is the persisted audit row for a produced verdict. Rows
// are written once and never updated.
type VerdictRecord struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	UploaderID    int64     `gorm:"column:uploader_id" json:"uploader_id"`
	Context       string    `gorm:"column:context" json:"context"`
	Filename      string    `gorm:"column:filename" json:"filename"`
	Status        string    `gorm:"column:status" json:"status"`
	Reasons       string    `gorm:"column:reasons" json:"reasons"` // JSON array
	RiskScore     int       `gorm:"column:risk_score" json:"risk_score"`
	PolicyVersion string    `gorm:"column:policy_version" json:"policy_version"`
	Pointer       string    `gorm:"column:pointer" json:"pointer,omitempty"`   // set when accepted
	Manifest      string    `gorm:"column:manifest" json:"manifest,omitempty"` // JSON summary for accepted archives
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (VerdictRecord) TableName() string { return "verdicts" }
