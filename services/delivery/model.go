package delivery

import (
	"time"
)

// DeliveryReview is a customer's rating of a delivered order. One review per
// customer per order; the rating feeds the worker's reputation ledger.
type DeliveryReview struct {
	ID         string    `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	OrderID    string    `gorm:"column:order_id;index"`
	WorkerID   string    `gorm:"column:worker_id"`
	CustomerID string    `gorm:"column:customer_id"`
	Rating     int64     `gorm:"column:rating"`
	ReviewText string    `gorm:"column:review_text"`
	// advisory flag from the client; never overrides the computed on-time
	ReportedOnTime *bool `gorm:"column:reported_on_time"`
}

type DeliveredResult struct {
	OrderID        string    `json:"order_id"`
	DeliveredAt    time.Time `json:"delivered_at"`
	Status         string    `json:"status"`
	OnTime         bool      `json:"on_time"`
	ElapsedMinutes int64     `json:"elapsed_minutes"`
}

type ReviewRequest struct {
	OrderID    string `json:"order_id"`
	Rating     int64  `json:"rating"`
	ReviewText string `json:"review_text"`
	OnTime     *bool  `json:"on_time"`
}
