package assignment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"delivery-dispatch/pkg/db/option"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/pkg/repository"
	"delivery-dispatch/services/bidbook"
	"delivery-dispatch/services/order"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opTimeout = 5 * time.Second

type Service struct {
	db   *gorm.DB
	bids *bidbook.Service

	orders   repository.Repository[order.Order]
	bidStore repository.Repository[bidbook.Bid]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	BidBook *bidbook.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		bids: p.BidBook,

		orders:   repository.ProvideStore[order.Order](p.DB),
		bidStore: repository.ProvideStore[bidbook.Bid](p.DB),
	}
}

type AssignRequest struct {
	DeliveryID string `json:"delivery_id"`
	Memo       string `json:"memo"`
}

type AssignResult struct {
	OrderID          string    `json:"order_id"`
	WorkerID         string    `json:"worker_id"`
	BidID            string    `json:"bid_id"`
	Status           string    `json:"status"`
	DeliveryFeeCents int64     `json:"delivery_fee_cents"`
	TotalCents       int64     `json:"total_cents"`
	IsLowestBid      bool      `json:"is_lowest_bid"`
	MemoSaved        bool      `json:"memo_saved"`
	AssignedAt       time.Time `json:"assigned_at"`
}

// Assign accepts one worker's bid and closes the book for the order. The
// order row and its bids are locked for the whole decision, and the lowest
// bid is re-derived inside the lock; any client-side lowest hint is ignored.
// Assigning a non-lowest bid requires a non-blank memo.
func (s *Service) Assign(ctx context.Context, orderID string, req AssignRequest) (*AssignResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("order_id", orderID),
		zap.String("worker_id", req.DeliveryID),
	)

	if req.DeliveryID == "" {
		return nil, errutil.ValidationFailed("delivery worker id is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "delivery_id", Message: "must not be empty"}))
	}
	memo := strings.TrimSpace(req.Memo)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var result *AssignResult
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ord, err := s.orders.WithTrx(tx).FindOne(ctx, &order.Order{ID: orderID})
		if err != nil {
			return err
		}
		if ord == nil {
			return errutil.NotFound("order not found", nil)
		}
		if !ord.Status.OpenForBidding() {
			return errutil.UnprocessableEntity("order is not open for assignment", nil)
		}

		pending, err := s.bids.PendingBids(ctx, tx, orderID)
		if err != nil {
			return err
		}

		var chosen *bidbook.Bid
		for _, b := range pending {
			if b.WorkerID == req.DeliveryID {
				chosen = b
				break
			}
		}
		if chosen == nil {
			return errutil.NotFound("worker has no pending bid on this order", nil)
		}

		lowest := bidbook.Lowest(pending)
		isLowest := lowest != nil && chosen.ID == lowest.ID
		if !isLowest && memo == "" {
			return errutil.ValidationFailed("memo is required when assigning a non-lowest bid", nil,
				errutil.WithDetails(errutil.Detail{Field: "memo", Message: "must not be blank"}))
		}

		for _, b := range pending {
			status := bidbook.BidRejected
			if b.ID == chosen.ID {
				status = bidbook.BidAccepted
			}
			if err := s.bidStore.WithTrx(tx).Update(ctx, b.ID, map[string]any{"status": status}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		values := map[string]any{
			"status":             order.Assigned,
			"assigned_worker_id": chosen.WorkerID,
			"assigned_bid_id":    chosen.ID,
			"delivery_fee_cents": chosen.PriceCents,
			"total_cents":        ord.SubtotalCents + chosen.PriceCents,
			"assigned_at":        now,
		}
		if memo != "" {
			values["assignment_memo"] = memo
		}
		if err := s.orders.WithTrx(tx).Update(ctx, orderID, values); err != nil {
			return err
		}

		result = &AssignResult{
			OrderID:          orderID,
			WorkerID:         chosen.WorkerID,
			BidID:            chosen.ID,
			Status:           order.Assigned.String(),
			DeliveryFeeCents: chosen.PriceCents,
			TotalCents:       ord.SubtotalCents + chosen.PriceCents,
			IsLowestBid:      isLowest,
			MemoSaved:        memo != "",
			AssignedAt:       now,
		}
		return nil
	}); err != nil {
		zapLog.Warn("assignment failed", zap.Error(err))
		return nil, err
	}

	zapLog.Info("order assigned",
		zap.String("bid_id", result.BidID),
		zap.Bool("is_lowest_bid", result.IsLowestBid),
		zap.Bool("memo_saved", result.MemoSaved),
	)
	return result, nil
}

func (s *Service) handleAssign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	result, err := s.Assign(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
