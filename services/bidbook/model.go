package bidbook

import (
	"time"
)

type BidStatus string

var (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

func (s BidStatus) String() string {
	switch s {
	case BidPending, BidAccepted, BidRejected:
		return string(s)
	default:
		return ""
	}
}

// Bid is a delivery worker's offer to fulfil a paid order. A worker holds at
// most one pending bid per order; every pending bid is closed (accepted or
// rejected) when the order leaves the paid state.
type Bid struct {
	ID               string    `gorm:"column:id;primaryKey"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
	OrderID          string    `gorm:"column:order_id;index"`
	WorkerID         string    `gorm:"column:worker_id"`
	PriceCents       int64     `gorm:"column:price_cents"`
	EstimatedMinutes int64     `gorm:"column:estimated_minutes"`
	Status           BidStatus `gorm:"column:status"`
}

type PlaceBidRequest struct {
	PriceCents       int64 `json:"price_cents"`
	EstimatedMinutes int64 `json:"estimated_minutes"`
}

// BidView is the API shape of a bid, annotated against the current lowest.
type BidView struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	WorkerID         string    `json:"worker_id"`
	PriceCents       int64     `json:"price_cents"`
	EstimatedMinutes int64     `json:"estimated_minutes"`
	Status           string    `json:"status"`
	IsLowest         bool      `json:"is_lowest"`
	CreatedAt        time.Time `json:"created_at"`
}

func (b *Bid) View(isLowest bool) BidView {
	return BidView{
		ID:               b.ID,
		OrderID:          b.OrderID,
		WorkerID:         b.WorkerID,
		PriceCents:       b.PriceCents,
		EstimatedMinutes: b.EstimatedMinutes,
		Status:           b.Status.String(),
		IsLowest:         isLowest,
		CreatedAt:        b.CreatedAt,
	}
}
