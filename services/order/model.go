package order

import (
	"time"
)

type Status string

var (
	Created   Status = "created"
	Paid      Status = "paid"
	Assigned  Status = "assigned"
	Delivered Status = "delivered"
	Cancelled Status = "cancelled"
)

func (s Status) String() string {
	switch s {
	case Created, Paid, Assigned, Delivered, Cancelled:
		return string(s)
	default:
		return ""
	}
}

// OpenForBidding reports whether workers may still place or win bids.
// Bidding opens when payment clears and closes the moment the order is
// assigned, delivered or cancelled.
func (s Status) OpenForBidding() bool {
	return s == Paid
}

// Order is created by the checkout collaborator; this service only ever
// moves it paid → assigned → delivered. All monetary fields are integer
// minor units.
type Order struct {
	ID               string     `gorm:"column:id;primaryKey"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
	CustomerID       string     `gorm:"column:customer_id"`
	Status           Status     `gorm:"column:status"`
	SubtotalCents    int64      `gorm:"column:subtotal_cents"`
	DeliveryFeeCents int64      `gorm:"column:delivery_fee_cents"`
	TotalCents       int64      `gorm:"column:total_cents"`
	AssignedWorkerID *string    `gorm:"column:assigned_worker_id"`
	AssignedBidID    *string    `gorm:"column:assigned_bid_id"`
	AssignmentMemo   *string    `gorm:"column:assignment_memo"`
	AssignedAt       *time.Time `gorm:"column:assigned_at"`
	DeliveredAt      *time.Time `gorm:"column:delivered_at"`
}
