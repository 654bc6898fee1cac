package reputation

import (
	"context"
	"testing"

	"delivery-dispatch/pkg/config"
	"delivery-dispatch/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Reputation = config.ReputationConfig{
		DemotionThreshold:          3,
		TerminationThreshold:       2,
		BonusThreshold:             3,
		WarningThresholdRegistered: 3,
		WarningThresholdVIP:        5,
		SweepConcurrency:           4,
	}
	return cfg
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Event{}, &Record{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledger := NewLedger(db, node)
	return NewService(ServiceParams{DB: db, Config: testConfig(), Ledger: ledger}), db
}

func appendEvents(t *testing.T, svc *Service, accountID string, role Role, types ...EventType) {
	t.Helper()
	for _, eventType := range types {
		var value int64
		if eventType == EventComplaint || eventType == EventWarning {
			value = 1
		}
		_, err := svc.ledger.Append(context.Background(), nil, &Event{
			AccountID: accountID,
			Role:      role,
			Type:      eventType,
			Value:     value,
		})
		require.NoError(t, err)
	}
}

func TestEvaluateAccountCreatesRecord(t *testing.T) {
	svc, db := newTestService(t)
	appendEvents(t, svc, "w-1", RoleEmployee, EventComplaint, EventComplaint)

	changed, err := svc.EvaluateAccount(context.Background(), "w-1")
	require.NoError(t, err)
	require.True(t, changed)

	var rec Record
	require.NoError(t, db.First(&rec, "account_id = ?", "w-1").Error)
	require.Equal(t, EmployeeActive, rec.EmployeeStatus)
	require.Equal(t, 2, rec.ComplaintCount)

	var pending int64
	require.NoError(t, db.Model(&Event{}).Where("evaluated_at IS NULL").Count(&pending).Error)
	require.Zero(t, pending)
}

func TestEvaluateAccountIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	appendEvents(t, svc, "w-1", RoleEmployee, EventComplaint, EventComplaint, EventComplaint)

	changed, err := svc.EvaluateAccount(context.Background(), "w-1")
	require.NoError(t, err)
	require.True(t, changed)

	var first Record
	require.NoError(t, db.First(&first, "account_id = ?", "w-1").Error)
	require.Equal(t, EmployeeDemoted, first.EmployeeStatus)
	require.Equal(t, 1, first.DemotionCount)

	// no new events: second run must be a no-op
	changed, err = svc.EvaluateAccount(context.Background(), "w-1")
	require.NoError(t, err)
	require.False(t, changed)

	var second Record
	require.NoError(t, db.First(&second, "account_id = ?", "w-1").Error)
	require.Equal(t, first.DemotionCount, second.DemotionCount)
	require.Equal(t, first.ComplaintCount, second.ComplaintCount)
	require.Equal(t, first.EmployeeStatus, second.EmployeeStatus)
}

func TestEvaluateAllSummary(t *testing.T) {
	svc, _ := newTestService(t)
	appendEvents(t, svc, "w-1", RoleEmployee, EventComplaint)
	appendEvents(t, svc, "w-2", RoleEmployee, EventRating)
	appendEvents(t, svc, "c-1", RoleCustomer, EventWarning)

	summary, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Accounts)
	require.Equal(t, 3, summary.Changed)
	require.Zero(t, summary.Failed)

	// all folded in: the next sweep has nothing to do
	summary, err = svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Accounts)
}

func TestEvaluateAllIsolatesFailures(t *testing.T) {
	svc, db := newTestService(t)
	appendEvents(t, svc, "w-ok", RoleEmployee, EventComplaint)
	appendEvents(t, svc, "w-bad", RoleEmployee, EventComplaint)
	appendEvents(t, svc, "c-ok", RoleCustomer, EventWarning)

	// make every write to w-bad's events abort its transaction
	require.NoError(t, db.Exec(`
		CREATE TRIGGER fail_bad_account BEFORE UPDATE ON events
		WHEN NEW.account_id = 'w-bad'
		BEGIN SELECT RAISE(ABORT, 'storage failure'); END;
	`).Error)

	summary, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Accounts)
	require.Equal(t, 2, summary.Changed)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, "w-bad", summary.Failures[0].AccountID)
	require.Contains(t, summary.Failures[0].Error, "storage failure")

	// healthy accounts were folded in despite the failure
	var rec Record
	require.NoError(t, db.First(&rec, "account_id = ?", "w-ok").Error)
	require.Equal(t, 1, rec.ComplaintCount)

	// the failed account rolled back whole: no record, events still pending
	require.ErrorIs(t, db.First(&Record{}, "account_id = ?", "w-bad").Error, gorm.ErrRecordNotFound)
	var pending int64
	require.NoError(t, db.Model(&Event{}).
		Where("account_id = ? AND evaluated_at IS NULL", "w-bad").Count(&pending).Error)
	require.Equal(t, int64(1), pending)

	// once the fault clears, the next sweep picks the account up
	require.NoError(t, db.Exec(`DROP TRIGGER fail_bad_account`).Error)

	summary, err = svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Accounts)
	require.Equal(t, 1, summary.Changed)
	require.Zero(t, summary.Failed)
}

func TestCustomerStatusAndWarnings(t *testing.T) {
	svc, _ := newTestService(t)
	appendEvents(t, svc, "c-1", RoleCustomer, EventWarning, EventWarning)

	_, err := svc.EvaluateAccount(context.Background(), "c-1")
	require.NoError(t, err)

	view, err := svc.Status(context.Background(), "c-1", RoleCustomer)
	require.NoError(t, err)
	require.Equal(t, string(TierRegistered), view.CustomerTier)
	require.Equal(t, 2, view.WarningCount)
	require.True(t, view.NearThreshold)

	warnings, err := svc.Warnings(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, 3, warnings.Threshold)
	require.Contains(t, warnings.WarningMessage, "2 of 3")
}

func TestStatusForUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	view, err := svc.Status(context.Background(), "fresh", RoleEmployee)
	require.NoError(t, err)
	require.Equal(t, string(EmployeeActive), view.EmployeeStatus)
	require.Zero(t, view.ComplaintCount)
}

func TestLedgerHashChain(t *testing.T) {
	svc, db := newTestService(t)
	appendEvents(t, svc, "w-1", RoleEmployee, EventComplaint, EventCompliment, EventRating)

	report, err := svc.ledger.VerifyChain(context.Background(), "w-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 3, report.EventCount)

	// tampering with a stored value breaks the chain from that entry on
	require.NoError(t, db.Model(&Event{}).
		Where("account_id = ? AND type = ?", "w-1", EventComplaint).
		Update("value", 99).Error)

	report, err = svc.ledger.VerifyChain(context.Background(), "w-1")
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.NotEmpty(t, report.BrokenEvents)
}

func TestLedgerChainLinksAcrossAppends(t *testing.T) {
	svc, db := newTestService(t)
	appendEvents(t, svc, "w-1", RoleEmployee, EventComplaint, EventComplaint)

	var events []Event
	require.NoError(t, db.Where("account_id = ?", "w-1").Order("id asc").Find(&events).Error)
	require.Len(t, events, 2)
	require.Equal(t, genesisHash, events[0].PreviousHash)
	require.Equal(t, events[0].Hash, events[1].PreviousHash)
}
