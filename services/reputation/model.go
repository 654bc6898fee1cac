package reputation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Role string

var (
	RoleEmployee Role = "employee"
	RoleCustomer Role = "customer"
)

type EventType string

const (
	EventRating          EventType = "rating"
	EventComplaint       EventType = "complaint"
	EventCompliment      EventType = "compliment"
	EventWarning         EventType = "warning"
	EventWarningReverted EventType = "warning_reverted"
	EventDelivery        EventType = "delivery"
	EventDisputeOpened   EventType = "dispute_opened"
	EventDisputeClosed   EventType = "dispute_closed"
)

// Event is one append-only ledger entry. Entries are hash-chained per
// account: each carries the hash of the previous entry, so history cannot be
// rewritten without breaking the chain. EvaluatedAt marks whether the engine
// has folded the event into the account's record yet.
type Event struct {
	ID           string         `gorm:"column:id;primaryKey"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	AccountID    string         `gorm:"column:account_id;index"`
	Role         Role           `gorm:"column:role"`
	Type         EventType      `gorm:"column:type"`
	Value        int64          `gorm:"column:value"`
	OrderID      string         `gorm:"column:order_id"`
	SourceID     string         `gorm:"column:source_id"`
	Description  string         `gorm:"column:description"`
	PreviousHash string         `gorm:"column:previous_hash"`
	Hash         string         `gorm:"column:hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	EvaluatedAt  *time.Time     `gorm:"column:evaluated_at"`
}

func (e *Event) HashFields() map[string]string {
	return map[string]string{
		"id":            e.ID,
		"account_id":    e.AccountID,
		"role":          string(e.Role),
		"type":          string(e.Type),
		"value":         fmt.Sprintf("%d", e.Value),
		"order_id":      e.OrderID,
		"source_id":     e.SourceID,
		"description":   e.Description,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": e.PreviousHash,
	}
}

func (e *Event) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

type EmployeeStatus string

var (
	EmployeeActive  EmployeeStatus = "active"
	EmployeeDemoted EmployeeStatus = "demoted"
	EmployeeFired   EmployeeStatus = "fired"
)

type CustomerTier string

var (
	TierRegistered   CustomerTier = "registered"
	TierVIP          CustomerTier = "vip"
	TierDeregistered CustomerTier = "deregistered"
)

// Record is the derived per-account reputation state. It is created lazily
// on the first ledger event for an account and only ever mutated by the
// engine, under a row lock. Counters are non-negative; the only resets are
// the ones the tier transitions perform.
type Record struct {
	AccountID string    `gorm:"column:account_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
	Role      Role      `gorm:"column:role"`

	// employee lifecycle
	EmployeeStatus  EmployeeStatus `gorm:"column:employee_status"`
	ComplaintCount  int            `gorm:"column:complaint_count"`
	ComplimentCount int            `gorm:"column:compliment_count"`
	DemotionCount   int            `gorm:"column:demotion_count"`
	BonusCount      int            `gorm:"column:bonus_count"`
	BonusEligible   bool           `gorm:"column:bonus_eligible"`

	// customer lifecycle
	CustomerTier  CustomerTier `gorm:"column:customer_tier"`
	WarningCount  int          `gorm:"column:warning_count"`
	Blacklisted   bool         `gorm:"column:blacklisted"`
	ActiveDispute bool         `gorm:"column:active_dispute"`

	// ratings and delivery stats
	RatingAvg            float64 `gorm:"column:rating_avg"`
	RatingCount          int64   `gorm:"column:rating_count"`
	DeliveryCount        int64   `gorm:"column:delivery_count"`
	OnTimeCount          int64   `gorm:"column:on_time_count"`
	TotalDeliveryMinutes int64   `gorm:"column:total_delivery_minutes"`
}

func newRecord(accountID string, role Role) *Record {
	rec := &Record{
		AccountID: accountID,
		Role:      role,
	}
	switch role {
	case RoleCustomer:
		rec.CustomerTier = TierRegistered
	default:
		rec.EmployeeStatus = EmployeeActive
	}
	return rec
}

// OnTimePercentage is on-time deliveries over total deliveries, 0 when the
// worker has not delivered yet.
func (r *Record) OnTimePercentage() float64 {
	if r.DeliveryCount == 0 {
		return 0
	}
	return float64(r.OnTimeCount) / float64(r.DeliveryCount) * 100
}

func (r *Record) AvgDeliveryMinutes() float64 {
	if r.DeliveryCount == 0 {
		return 0
	}
	return float64(r.TotalDeliveryMinutes) / float64(r.DeliveryCount)
}

// deliveryMeta is the metadata payload of an EventDelivery entry.
type deliveryMeta struct {
	OnTime           bool  `json:"on_time"`
	EstimatedMinutes int64 `json:"estimated_minutes"`
}
