package assignment

import (
	"context"
	"testing"

	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/services/bidbook"
	"delivery-dispatch/services/order"
	"delivery-dispatch/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &order.Order{}, &bidbook.Bid{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	bids := bidbook.NewService(bidbook.ServiceParams{DB: db, Node: node})
	return NewService(ServiceParams{DB: db, BidBook: bids}), db
}

func seedAuction(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&order.Order{
		ID:            "ord-1",
		CustomerID:    "cust-1",
		Status:        order.Paid,
		SubtotalCents: 2000,
	}).Error)
	require.NoError(t, db.Create([]*bidbook.Bid{
		{ID: "b-a", OrderID: "ord-1", WorkerID: "worker-a", PriceCents: 450, EstimatedMinutes: 30, Status: bidbook.BidPending},
		{ID: "b-b", OrderID: "ord-1", WorkerID: "worker-b", PriceCents: 300, EstimatedMinutes: 40, Status: bidbook.BidPending},
	}).Error)
}

func TestAssignLowestBid(t *testing.T) {
	svc, db := newTestService(t)
	seedAuction(t, db)

	result, err := svc.Assign(context.Background(), "ord-1", AssignRequest{DeliveryID: "worker-b"})
	require.NoError(t, err)
	require.True(t, result.IsLowestBid)
	require.False(t, result.MemoSaved)
	require.Equal(t, int64(300), result.DeliveryFeeCents)
	require.Equal(t, int64(2300), result.TotalCents)

	var ord order.Order
	require.NoError(t, db.First(&ord, "id = ?", "ord-1").Error)
	require.Equal(t, order.Assigned, ord.Status)
	require.NotNil(t, ord.AssignedWorkerID)
	require.Equal(t, "worker-b", *ord.AssignedWorkerID)
	require.NotNil(t, ord.AssignedAt)
	require.Nil(t, ord.AssignmentMemo)

	var losing bidbook.Bid
	require.NoError(t, db.First(&losing, "id = ?", "b-a").Error)
	require.Equal(t, bidbook.BidRejected, losing.Status)
}

func TestAssignNonLowestRequiresMemo(t *testing.T) {
	svc, db := newTestService(t)
	seedAuction(t, db)

	_, err := svc.Assign(context.Background(), "ord-1", AssignRequest{DeliveryID: "worker-a"})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = svc.Assign(context.Background(), "ord-1", AssignRequest{DeliveryID: "worker-a", Memo: "   "})
	requireStatus(t, err, errutil.StatusValidationFailed)

	// the failed attempts must not have touched the order
	var ord order.Order
	require.NoError(t, db.First(&ord, "id = ?", "ord-1").Error)
	require.Equal(t, order.Paid, ord.Status)
}

func TestAssignNonLowestWithMemo(t *testing.T) {
	svc, db := newTestService(t)
	seedAuction(t, db)

	result, err := svc.Assign(context.Background(), "ord-1", AssignRequest{
		DeliveryID: "worker-a",
		Memo:       "better rating",
	})
	require.NoError(t, err)
	require.False(t, result.IsLowestBid)
	require.True(t, result.MemoSaved)
	require.Equal(t, int64(450), result.DeliveryFeeCents)

	var ord order.Order
	require.NoError(t, db.First(&ord, "id = ?", "ord-1").Error)
	require.Equal(t, order.Assigned, ord.Status)
	require.NotNil(t, ord.AssignmentMemo)
	require.Equal(t, "better rating", *ord.AssignmentMemo)

	var accepted bidbook.Bid
	require.NoError(t, db.First(&accepted, "id = ?", "b-a").Error)
	require.Equal(t, bidbook.BidAccepted, accepted.Status)

	var rejected bidbook.Bid
	require.NoError(t, db.First(&rejected, "id = ?", "b-b").Error)
	require.Equal(t, bidbook.BidRejected, rejected.Status)
}

func TestAssignRejectsSecondAttempt(t *testing.T) {
	svc, db := newTestService(t)
	seedAuction(t, db)

	_, err := svc.Assign(context.Background(), "ord-1", AssignRequest{DeliveryID: "worker-b"})
	require.NoError(t, err)

	_, err = svc.Assign(context.Background(), "ord-1", AssignRequest{DeliveryID: "worker-b"})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestAssignUnknownBid(t *testing.T) {
	svc, db := newTestService(t)
	seedAuction(t, db)

	_, err := svc.Assign(context.Background(), "ord-1", AssignRequest{DeliveryID: "worker-z"})
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestAssignOrderNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Assign(context.Background(), "missing", AssignRequest{DeliveryID: "worker-a"})
	requireStatus(t, err, errutil.StatusNotFound)
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, want, base.Code)
}
