package complaint

import (
	"time"
)

type Type string

var (
	TypeComplaint  Type = "complaint"
	TypeCompliment Type = "compliment"
)

type Status string

var (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusDisputed Status = "disputed"
)

type Outcome string

var (
	OutcomeUpheld    Outcome = "upheld"
	OutcomeDismissed Outcome = "dismissed"
)

// Complaint covers both complaints and compliments; the type field decides
// the ledger effect on resolution. FilerID is nil for system-generated
// entries. SubjectRole pins which state machine the resolution feeds.
type Complaint struct {
	ID          string     `gorm:"column:id;primaryKey"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	CaseCode    string     `gorm:"column:case_code"`
	Type        Type       `gorm:"column:type"`
	SubjectID   string     `gorm:"column:subject_id;index"`
	SubjectRole string     `gorm:"column:subject_role"`
	FilerID     *string    `gorm:"column:filer_id"`
	OrderID     string     `gorm:"column:order_id"`
	Text        string     `gorm:"column:text"`
	Status      Status     `gorm:"column:status"`
	Outcome     *Outcome   `gorm:"column:outcome"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
	// AdjudicatedAt marks that a dispute already ran its course; a complaint
	// gets one dispute, win or lose.
	AdjudicatedAt *time.Time `gorm:"column:adjudicated_at"`
}

type FileRequest struct {
	AboutUserID string `json:"about_user_id"`
	AboutRole   string `json:"about_role"`
	OrderID     string `json:"order_id"`
	Type        string `json:"type"`
	Text        string `json:"text"`
}

type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

type ResolveDisputeRequest struct {
	InFavor bool `json:"in_favor"`
}
