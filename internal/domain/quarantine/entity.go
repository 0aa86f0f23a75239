package quarantine

import "time"

// State is a quarantine record's position in the review lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateEscalated State = "escalated"
	StateReleased  State = "released"
	StatePurged    State = "purged"
)

// transitions is the full state graph. pending is the only initial state;
// released and purged are terminal.
var transitions = map[State][]State{
	StatePending:   {StateApproved, StateRejected, StateEscalated},
	StateEscalated: {StateApproved, StateRejected},
	StateApproved:  {StateReleased},
	StateRejected:  {StatePurged},
}

// CanTransition reports whether the graph permits from → to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseState validates a caller-supplied state string.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StatePending, StateApproved, StateRejected, StateEscalated, StateReleased, StatePurged:
		return State(s), true
	}
	return "", false
}

// Record is one quarantined artifact awaiting review. The retained bytes
// live in the coordinator's spool, never in public object storage, until
// a reviewer releases them.
type Record struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	Context    string    `gorm:"column:context" json:"context"`
	UploaderID int64     `gorm:"column:uploader_id" json:"uploader_id"`
	Filename   string    `gorm:"column:filename" json:"filename"`
	MediaType  string    `gorm:"column:media_type" json:"media_type"`
	RiskScore  int       `gorm:"column:risk_score" json:"risk_score"`
	Reasons    string    `gorm:"column:reasons" json:"reasons"` // JSON array
	SpoolName  string    `gorm:"column:spool_name" json:"-"`
	State      string    `gorm:"column:state" json:"state"`
	Pointer    string    `gorm:"column:pointer" json:"pointer,omitempty"` // set on release
	Deadline   time.Time `gorm:"column:deadline" json:"deadline"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Record) TableName() string { return "quarantine_records" }

// AuditEntry is one append-only line in a record's audit trail. Entries
// are never updated or deleted.
type AuditEntry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RecordID  string    `gorm:"column:record_id;index" json:"record_id"`
	Actor     string    `gorm:"column:actor" json:"actor"`
	Action    string    `gorm:"column:action" json:"action"`
	FromState string    `gorm:"column:from_state" json:"from_state"`
	ToState   string    `gorm:"column:to_state" json:"to_state"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (AuditEntry) TableName() string { return "quarantine_audit" }
