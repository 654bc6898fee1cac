package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"delivery-dispatch/pkg/db/option"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/pkg/middleware"
	"delivery-dispatch/pkg/repository"
	"delivery-dispatch/pkg/task"
	"delivery-dispatch/services/bidbook"
	"delivery-dispatch/services/order"
	"delivery-dispatch/services/reputation"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const opTimeout = 5 * time.Second

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *reputation.Ledger
	enqueuer task.Enqueuer

	orders  repository.Repository[order.Order]
	bids    repository.Repository[bidbook.Bid]
	reviews repository.Repository[DeliveryReview]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *reputation.Ledger
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		enqueuer: p.Enqueuer,

		orders:  repository.ProvideStore[order.Order](p.DB),
		bids:    repository.ProvideStore[bidbook.Bid](p.DB),
		reviews: repository.ProvideStore[DeliveryReview](p.DB),
	}
}

// MarkDelivered closes out an assigned order. On-time is computed against
// the accepted bid's estimate from the time of assignment; the delivery
// event lands on the worker's ledger in the same transaction. Only the
// assigned worker may call this for their own order.
func (s *Service) MarkDelivered(ctx context.Context, orderID, callerID, callerRole string) (*DeliveredResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("order_id", orderID),
	)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var result *DeliveredResult
	var workerID string
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		ord, err := s.orders.WithTrx(tx).FindOne(ctx, &order.Order{ID: orderID})
		if err != nil {
			return err
		}
		if ord == nil {
			return errutil.NotFound("order not found", nil)
		}
		if ord.Status != order.Assigned {
			return errutil.UnprocessableEntity("order is not in an assigned state", nil)
		}
		if ord.AssignedWorkerID == nil || ord.AssignedBidID == nil || ord.AssignedAt == nil {
			return errutil.Internal("assigned order is missing its bid", nil)
		}
		if callerRole == middleware.RoleWorker && *ord.AssignedWorkerID != callerID {
			return errutil.Forbidden("order is assigned to another worker", nil)
		}
		workerID = *ord.AssignedWorkerID

		bid, err := s.bids.WithTrx(tx).FindOne(ctx, &bidbook.Bid{ID: *ord.AssignedBidID})
		if err != nil {
			return err
		}
		if bid == nil {
			return errutil.Internal("accepted bid not found", nil)
		}

		now := time.Now().UTC()
		elapsed := int64(now.Sub(*ord.AssignedAt).Minutes())
		onTime := elapsed <= bid.EstimatedMinutes

		if err := s.orders.WithTrx(tx).Update(ctx, orderID, map[string]any{
			"status":       order.Delivered,
			"delivered_at": now,
		}); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]any{
			"on_time":           onTime,
			"estimated_minutes": bid.EstimatedMinutes,
		})
		if _, err := s.ledger.Append(ctx, tx, &reputation.Event{
			AccountID:   workerID,
			Role:        reputation.RoleEmployee,
			Type:        reputation.EventDelivery,
			Value:       elapsed,
			OrderID:     orderID,
			Description: "delivery completed",
			Metadata:    datatypes.JSON(meta),
		}); err != nil {
			return err
		}

		result = &DeliveredResult{
			OrderID:        orderID,
			DeliveredAt:    now,
			Status:         order.Delivered.String(),
			OnTime:         onTime,
			ElapsedMinutes: elapsed,
		}
		return nil
	}); err != nil {
		zapLog.Warn("mark delivered failed", zap.Error(err))
		return nil, err
	}

	s.requestEvaluation(ctx, workerID)

	zapLog.Info("order delivered",
		zap.String("worker_id", workerID),
		zap.Bool("on_time", result.OnTime),
		zap.Int64("elapsed_minutes", result.ElapsedMinutes),
	)
	return result, nil
}

// SubmitReview records the customer's rating for a delivered order and feeds
// it to the assigned worker's ledger. A customer gets one review per order.
// The client's on_time flag is stored as context only.
func (s *Service) SubmitReview(ctx context.Context, customerID string, req ReviewRequest) (*DeliveryReview, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, errutil.ValidationFailed("rating must be between 1 and 5", nil,
			errutil.WithDetails(errutil.Detail{Field: "rating", Message: "must be in [1,5]"}))
	}
	if req.OrderID == "" {
		return nil, errutil.ValidationFailed("order id is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "order_id", Message: "must not be empty"}))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var workerID string
	review := &DeliveryReview{
		ID:             s.node.Generate().String(),
		OrderID:        req.OrderID,
		CustomerID:     customerID,
		Rating:         req.Rating,
		ReviewText:     req.ReviewText,
		ReportedOnTime: req.OnTime,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ord, err := s.orders.WithTrx(tx).FindOne(ctx, &order.Order{ID: req.OrderID})
		if err != nil {
			return err
		}
		if ord == nil {
			return errutil.NotFound("order not found", nil)
		}
		if ord.CustomerID != customerID {
			return errutil.Forbidden("order belongs to another customer", nil)
		}
		if ord.Status != order.Delivered || ord.AssignedWorkerID == nil {
			return errutil.UnprocessableEntity("order has not been delivered", nil)
		}
		workerID = *ord.AssignedWorkerID
		review.WorkerID = workerID

		existing, err := s.reviews.WithTrx(tx).FindOne(ctx, &DeliveryReview{
			OrderID:    req.OrderID,
			CustomerID: customerID,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			return errutil.Conflict("review already submitted for this order", nil)
		}

		if err := s.reviews.WithTrx(tx).Create(ctx, review); err != nil {
			return err
		}

		_, err = s.ledger.Append(ctx, tx, &reputation.Event{
			AccountID:   workerID,
			Role:        reputation.RoleEmployee,
			Type:        reputation.EventRating,
			Value:       req.Rating,
			OrderID:     req.OrderID,
			SourceID:    customerID,
			Description: "delivery review",
		})
		return err
	}); err != nil {
		return nil, err
	}

	s.requestEvaluation(ctx, workerID)

	zap.L().Info("delivery review submitted",
		zap.String("order_id", req.OrderID),
		zap.String("worker_id", workerID),
		zap.Int64("rating", req.Rating),
	)
	return review, nil
}

// requestEvaluation nudges the worker queue to fold the new events in. Best
// effort; the nightly sweep converges the record regardless.
func (s *Service) requestEvaluation(ctx context.Context, accountID string) {
	if s.enqueuer == nil || accountID == "" {
		return
	}
	t, err := reputation.NewEvaluateAccountTask(accountID)
	if err == nil {
		_, err = s.enqueuer.Enqueue(ctx, t)
	}
	if err != nil {
		zap.L().Warn("failed to enqueue evaluation", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *Service) handleMarkDelivered(c *gin.Context) {
	result, err := s.MarkDelivered(c.Request.Context(), c.Param("id"),
		middleware.AccountID(c), middleware.Role(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Service) handleSubmitReview(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	review, err := s.SubmitReview(c.Request.Context(), middleware.AccountID(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review_id": review.ID, "order_id": review.OrderID})
}
