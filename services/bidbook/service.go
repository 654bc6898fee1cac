package bidbook

import (
	"context"
	"net/http"
	"time"

	"delivery-dispatch/pkg/db/option"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/pkg/middleware"
	"delivery-dispatch/pkg/repository"
	"delivery-dispatch/services/order"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// opTimeout bounds every persistence round-trip; expiry surfaces as a
// retryable failure to the caller.
const opTimeout = 5 * time.Second

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	orders repository.Repository[order.Order]
	bids   repository.Repository[Bid]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		orders: repository.ProvideStore[order.Order](p.DB),
		bids:   repository.ProvideStore[Bid](p.DB),
	}
}

// byAuctionOrder sorts pending bids into the deterministic auction order:
// cheapest first, ties broken by earliest submission, then lowest id.
func byAuctionOrder(db *gorm.DB) *gorm.DB {
	return db.Order("price_cents ASC").Order("created_at ASC").Order("id ASC")
}

// PendingBids returns the open bids of an order in auction order. When tx is
// non-nil the read joins the caller's transaction so row locks apply.
func (s *Service) PendingBids(ctx context.Context, tx *gorm.DB, orderID string) ([]*Bid, error) {
	return s.bids.WithTrx(tx).Find(ctx, &Bid{OrderID: orderID, Status: BidPending}, byAuctionOrder)
}

// Lowest picks the winning candidate from bids already in auction order.
func Lowest(bids []*Bid) *Bid {
	if len(bids) == 0 {
		return nil
	}
	return bids[0]
}

// PlaceBid records a worker's offer on a paid order. The order row is locked
// so a concurrent assignment cannot close the book mid-placement.
func (s *Service) PlaceBid(ctx context.Context, orderID, workerID string, req PlaceBidRequest) (*Bid, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("order_id", orderID),
		zap.String("worker_id", workerID),
	)

	if req.PriceCents <= 0 {
		return nil, errutil.ValidationFailed("price must be positive", nil,
			errutil.WithDetails(errutil.Detail{Field: "price_cents", Message: "must be > 0"}))
	}
	if req.EstimatedMinutes <= 0 {
		return nil, errutil.ValidationFailed("estimated minutes must be positive", nil,
			errutil.WithDetails(errutil.Detail{Field: "estimated_minutes", Message: "must be > 0"}))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	bid := &Bid{
		ID:               s.node.Generate().String(),
		OrderID:          orderID,
		WorkerID:         workerID,
		PriceCents:       req.PriceCents,
		EstimatedMinutes: req.EstimatedMinutes,
		Status:           BidPending,
	}

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
			return errutil.UnprocessableEntity("order is not open for bidding", nil)
		}

		existing, err := s.bids.WithTrx(tx).FindOne(ctx, &Bid{
			OrderID:  orderID,
			WorkerID: workerID,
			Status:   BidPending,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			return errutil.Conflict("worker already has a pending bid on this order", nil)
		}

		return s.bids.WithTrx(tx).Create(ctx, bid)
	}); err != nil {
		zapLog.Warn("failed to place bid", zap.Error(err))
		return nil, err
	}

	zapLog.Info("bid placed", zap.String("bid_id", bid.ID), zap.Int64("price_cents", bid.PriceCents))
	return bid, nil
}

// ListBids returns every bid on the order in auction order, each annotated
// with whether it currently holds the lowest position.
func (s *Service) ListBids(ctx context.Context, orderID string) ([]BidView, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ord, err := s.orders.FindOne(ctx, &order.Order{ID: orderID})
	if err != nil {
		return nil, err
	}
	if ord == nil {
		return nil, errutil.NotFound("order not found", nil)
	}

	bids, err := s.bids.Find(ctx, &Bid{OrderID: orderID}, byAuctionOrder)
	if err != nil {
		return nil, err
	}

	var lowestID string
	for _, b := range bids {
		if b.Status == BidPending {
			lowestID = b.ID
			break
		}
	}

	views := make([]BidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, b.View(b.ID == lowestID))
	}
	return views, nil
}

// LowestBid returns the current lowest pending bid, or nil when the book is
// empty. Callers deciding an assignment must not rely on this read; the
// allocator re-derives the lowest inside its own locked transaction.
func (s *Service) LowestBid(ctx context.Context, orderID string) (*Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	bids, err := s.PendingBids(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	return Lowest(bids), nil
}

func (s *Service) handlePlaceBid(c *gin.Context) {
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	bid, err := s.PlaceBid(c.Request.Context(), c.Param("id"), middleware.AccountID(c), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, bid.View(false))
}

func (s *Service) handleListBids(c *gin.Context) {
	views, err := s.ListBids(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bids": views})
}
