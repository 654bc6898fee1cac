package complaint

import (
	"context"
	"fmt"
	"testing"

	"delivery-dispatch/pkg/config"
	"delivery-dispatch/pkg/db/pagination"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/services/reputation"
	"delivery-dispatch/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSequencer struct {
	n int
}

func (f *fakeSequencer) NextCaseCode(ctx context.Context) (string, error) {
	f.n++
	return fmt.Sprintf("CMP-TEST-%03d", f.n), nil
}

func newTestService(t *testing.T) (*Service, *reputation.Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Complaint{}, &reputation.Event{}, &reputation.Record{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Reputation = config.ReputationConfig{
		DemotionThreshold:          3,
		TerminationThreshold:       2,
		BonusThreshold:             3,
		WarningThresholdRegistered: 3,
		WarningThresholdVIP:        5,
		SweepConcurrency:           2,
	}

	ledger := reputation.NewLedger(db, node)
	engine := reputation.NewService(reputation.ServiceParams{DB: db, Config: cfg, Ledger: ledger})

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Ledger:    ledger,
		Sequencer: &fakeSequencer{},
	})
	return svc, engine, db
}

func fileComplaint(t *testing.T, svc *Service, subjectRole string) *Complaint {
	t.Helper()

	filerRole := "customer"
	if subjectRole == "customer" {
		filerRole = "delivery-worker"
	}

	entry, err := svc.File(context.Background(), "filer-1", filerRole, FileRequest{
		AboutUserID: "subject-1",
		AboutRole:   subjectRole,
		OrderID:     "ord-1",
		Type:        "complaint",
		Text:        "order mishandled",
	})
	require.NoError(t, err)
	return entry
}

func TestFileComplaint(t *testing.T) {
	svc, _, db := newTestService(t)

	entry := fileComplaint(t, svc, "employee")
	require.Equal(t, StatusPending, entry.Status)
	require.Equal(t, "CMP-TEST-001", entry.CaseCode)
	require.NotNil(t, entry.FilerID)

	// pending filings never touch the ledger
	var count int64
	require.NoError(t, db.Model(&reputation.Event{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestFileValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.File(context.Background(), "filer-1", "customer", FileRequest{
		AboutUserID: "subject-1",
		Type:        "complaint",
		Text:        "   ",
	})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = svc.File(context.Background(), "filer-1", "customer", FileRequest{
		AboutUserID: "subject-1",
		Type:        "grievance",
		Text:        "text",
	})
	requireStatus(t, err, errutil.StatusValidationFailed)

	_, err = svc.File(context.Background(), "filer-1", "customer", FileRequest{
		Type: "complaint",
		Text: "text",
	})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestFileDefaultsSubjectRoleFromFiler(t *testing.T) {
	svc, _, _ := newTestService(t)

	byCustomer, err := svc.File(context.Background(), "filer-1", "customer", FileRequest{
		AboutUserID: "w-1", Type: "complaint", Text: "late delivery",
	})
	require.NoError(t, err)
	require.Equal(t, "employee", byCustomer.SubjectRole)

	byWorker, err := svc.File(context.Background(), "filer-2", "delivery-worker", FileRequest{
		AboutUserID: "c-1", Type: "complaint", Text: "abusive at the door",
	})
	require.NoError(t, err)
	require.Equal(t, "customer", byWorker.SubjectRole)
}

func TestResolveUpheldFeedsLedger(t *testing.T) {
	svc, engine, db := newTestService(t)
	entry := fileComplaint(t, svc, "employee")

	resolved, err := svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "upheld"})
	require.NoError(t, err)
	require.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	var ev reputation.Event
	require.NoError(t, db.First(&ev, "account_id = ?", "subject-1").Error)
	require.Equal(t, reputation.EventComplaint, ev.Type)

	_, err = engine.EvaluateAccount(context.Background(), "subject-1")
	require.NoError(t, err)

	var rec reputation.Record
	require.NoError(t, db.First(&rec, "account_id = ?", "subject-1").Error)
	require.Equal(t, 1, rec.ComplaintCount)
}

func TestResolveDismissedLeavesLedgerAlone(t *testing.T) {
	svc, _, db := newTestService(t)
	entry := fileComplaint(t, svc, "employee")

	_, err := svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "dismissed"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&reputation.Event{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestResolveTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry := fileComplaint(t, svc, "employee")

	_, err := svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "upheld"})
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "dismissed"})
	requireStatus(t, err, errutil.StatusConflict)
}

func TestResolveUpheldAgainstCustomerEmitsWarning(t *testing.T) {
	svc, engine, db := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	_, err := svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "upheld"})
	require.NoError(t, err)

	var ev reputation.Event
	require.NoError(t, db.First(&ev, "account_id = ?", "subject-1").Error)
	require.Equal(t, reputation.EventWarning, ev.Type)

	_, err = engine.EvaluateAccount(context.Background(), "subject-1")
	require.NoError(t, err)

	var rec reputation.Record
	require.NoError(t, db.First(&rec, "account_id = ?", "subject-1").Error)
	require.Equal(t, 1, rec.WarningCount)
	require.Equal(t, reputation.TierRegistered, rec.CustomerTier)
}

func TestDisputePendingComplaint(t *testing.T) {
	svc, engine, db := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	disputed, err := svc.Dispute(context.Background(), entry.ID, "subject-1")
	require.NoError(t, err)
	require.Equal(t, StatusDisputed, disputed.Status)

	// a plain resolve must not bypass the dispute path
	_, err = svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "upheld"})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)

	_, err = engine.EvaluateAccount(context.Background(), "subject-1")
	require.NoError(t, err)

	var rec reputation.Record
	require.NoError(t, db.First(&rec, "account_id = ?", "subject-1").Error)
	require.True(t, rec.ActiveDispute)
	require.Zero(t, rec.WarningCount)
}

func TestDisputeOnlyBySubject(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	_, err := svc.Dispute(context.Background(), entry.ID, "someone-else")
	requireStatus(t, err, errutil.StatusForbidden)
}

func TestResolveDisputeInFavorRevertsWarning(t *testing.T) {
	svc, engine, db := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	// warning applied, then disputed, then overturned
	_, err := svc.Resolve(context.Background(), entry.ID, ResolveRequest{Outcome: "upheld"})
	require.NoError(t, err)
	_, err = svc.Dispute(context.Background(), entry.ID, "subject-1")
	require.NoError(t, err)
	_, err = svc.ResolveDispute(context.Background(), entry.ID, ResolveDisputeRequest{InFavor: true})
	require.NoError(t, err)

	_, err = engine.EvaluateAccount(context.Background(), "subject-1")
	require.NoError(t, err)

	var rec reputation.Record
	require.NoError(t, db.First(&rec, "account_id = ?", "subject-1").Error)
	require.Zero(t, rec.WarningCount)
	require.False(t, rec.ActiveDispute)
	require.Equal(t, reputation.TierRegistered, rec.CustomerTier)
}

func TestResolveDisputeAgainstSubjectAppliesEffect(t *testing.T) {
	svc, engine, db := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	_, err := svc.Dispute(context.Background(), entry.ID, "subject-1")
	require.NoError(t, err)
	_, err = svc.ResolveDispute(context.Background(), entry.ID, ResolveDisputeRequest{InFavor: false})
	require.NoError(t, err)

	_, err = engine.EvaluateAccount(context.Background(), "subject-1")
	require.NoError(t, err)

	var rec reputation.Record
	require.NoError(t, db.First(&rec, "account_id = ?", "subject-1").Error)
	require.Equal(t, 1, rec.WarningCount)
	require.False(t, rec.ActiveDispute)
}

func TestDisputeRunsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	_, err := svc.Dispute(context.Background(), entry.ID, "subject-1")
	require.NoError(t, err)
	adjudicated, err := svc.ResolveDispute(context.Background(), entry.ID, ResolveDisputeRequest{InFavor: false})
	require.NoError(t, err)
	require.NotNil(t, adjudicated.AdjudicatedAt)

	// a lost dispute cannot be reopened to stall the warning again
	_, err = svc.Dispute(context.Background(), entry.ID, "subject-1")
	requireStatus(t, err, errutil.StatusConflict)
}

func TestResolveDisputeRequiresDisputedState(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry := fileComplaint(t, svc, "customer")

	_, err := svc.ResolveDispute(context.Background(), entry.ID, ResolveDisputeRequest{InFavor: true})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestListOpenPagination(t *testing.T) {
	svc, _, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		_, err := svc.File(context.Background(), "filer-1", "customer", FileRequest{
			AboutUserID: fmt.Sprintf("w-%d", i),
			Type:        "complaint",
			Text:        "late delivery",
		})
		require.NoError(t, err)
	}

	first, info, err := svc.ListOpen(context.Background(), StatusPending, pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	rest, info, err := svc.ListOpen(context.Background(), StatusPending, pagination.Pagination{
		Limit:  3,
		Cursor: info.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)

	// no overlap across pages
	seen := map[string]bool{}
	for _, entry := range append(first, rest...) {
		require.False(t, seen[entry.ID])
		seen[entry.ID] = true
	}
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)

	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, want, base.Code)
}
