package reputation

import (
	"testing"

	"delivery-dispatch/pkg/config"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func testEngine() engine {
	return engine{cfg: config.ReputationConfig{
		DemotionThreshold:          3,
		TerminationThreshold:       2,
		BonusThreshold:             3,
		WarningThresholdRegistered: 3,
		WarningThresholdVIP:        5,
	}}
}

func complaints(n int) []*Event {
	events := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, &Event{Type: EventComplaint, Value: 1})
	}
	return events
}

func TestEmployeeDemotionAfterThreeComplaints(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	changed := eng.applyBatch(rec, complaints(2))
	require.True(t, changed)
	require.Equal(t, EmployeeActive, rec.EmployeeStatus)
	require.Equal(t, 2, rec.ComplaintCount)
	require.True(t, eng.nearDemotion(rec))

	changed = eng.applyBatch(rec, complaints(1))
	require.True(t, changed)
	require.Equal(t, EmployeeDemoted, rec.EmployeeStatus)
	require.Equal(t, 1, rec.DemotionCount)
	require.Equal(t, 0, rec.ComplaintCount)
	require.True(t, eng.nearFiring(rec))
}

func TestEmployeeFiredIsTerminal(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	eng.applyBatch(rec, complaints(6))
	require.Equal(t, EmployeeFired, rec.EmployeeStatus)
	require.Equal(t, 2, rec.DemotionCount)
	require.False(t, rec.BonusEligible)

	// further events never move a fired employee
	eng.applyBatch(rec, complaints(3))
	eng.applyBatch(rec, []*Event{{Type: EventCompliment}})
	require.Equal(t, EmployeeFired, rec.EmployeeStatus)
	require.Equal(t, 2, rec.DemotionCount)
	require.Equal(t, 0, rec.ComplimentCount)
}

func TestComplimentOffsetsComplaintWithinPass(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)
	rec.ComplaintCount = 2

	// one complaint plus one compliment in the same batch: the compliment
	// cancels the new complaint, so the threshold is never crossed
	changed := eng.applyBatch(rec, []*Event{
		{Type: EventComplaint, Value: 1},
		{Type: EventCompliment, Value: 1},
	})
	require.True(t, changed)
	require.Equal(t, EmployeeActive, rec.EmployeeStatus)
	require.Equal(t, 2, rec.ComplaintCount)
	require.Equal(t, 0, rec.DemotionCount)
	require.Equal(t, 1, rec.ComplimentCount)
}

func TestComplimentOffsetsRegardlessOfBatchOrder(t *testing.T) {
	eng := testEngine()

	// three complaints and one compliment arriving together: only two net
	// complaints, so no demotion
	rec := newRecord("w-1", RoleEmployee)
	eng.applyBatch(rec, []*Event{
		{Type: EventComplaint, Value: 1},
		{Type: EventComplaint, Value: 1},
		{Type: EventComplaint, Value: 1},
		{Type: EventCompliment, Value: 1},
	})
	require.Equal(t, EmployeeActive, rec.EmployeeStatus)
	require.Equal(t, 0, rec.DemotionCount)
	require.Equal(t, 2, rec.ComplaintCount)
	require.Equal(t, 1, rec.ComplimentCount)

	// a complaint followed by its offsetting compliment nets out to zero
	rec = newRecord("w-2", RoleEmployee)
	eng.applyBatch(rec, []*Event{
		{Type: EventComplaint, Value: 1},
		{Type: EventCompliment, Value: 1},
	})
	require.Equal(t, 0, rec.ComplaintCount)
	require.Equal(t, 1, rec.ComplimentCount)
}

func TestLeftoverComplimentsCancelPriorComplaints(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	eng.applyBatch(rec, complaints(2))
	require.Equal(t, 2, rec.ComplaintCount)

	// two compliments, one complaint: one credit consumes the new
	// complaint, the leftover cancels one outstanding from the prior pass
	eng.applyBatch(rec, []*Event{
		{Type: EventCompliment, Value: 1},
		{Type: EventComplaint, Value: 1},
		{Type: EventCompliment, Value: 1},
	})
	require.Equal(t, 1, rec.ComplaintCount)
	require.Equal(t, 2, rec.ComplimentCount)
	require.Equal(t, 0, rec.DemotionCount)
}

func TestComplimentDoesNotRevertDemotion(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	eng.applyBatch(rec, complaints(3))
	require.Equal(t, EmployeeDemoted, rec.EmployeeStatus)

	// compliment in a later pass: counters move, the demotion stands
	eng.applyBatch(rec, []*Event{{Type: EventCompliment, Value: 1}})
	require.Equal(t, EmployeeDemoted, rec.EmployeeStatus)
	require.Equal(t, 1, rec.DemotionCount)
}

func TestBonusEligibility(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	eng.applyBatch(rec, []*Event{
		{Type: EventCompliment},
		{Type: EventCompliment},
	})
	require.False(t, rec.BonusEligible)
	require.Equal(t, 2, rec.ComplimentCount)

	eng.applyBatch(rec, []*Event{{Type: EventCompliment}})
	require.True(t, rec.BonusEligible)
	require.Equal(t, 1, rec.BonusCount)
	require.Equal(t, 0, rec.ComplimentCount)
}

func TestRollingRatingAverage(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	eng.applyBatch(rec, []*Event{{Type: EventRating, Value: 4}})
	require.InDelta(t, 4.0, rec.RatingAvg, 1e-9)
	require.Equal(t, int64(1), rec.RatingCount)

	eng.applyBatch(rec, []*Event{{Type: EventRating, Value: 2}})
	require.InDelta(t, 3.0, rec.RatingAvg, 1e-9)

	eng.applyBatch(rec, []*Event{{Type: EventRating, Value: 5}})
	require.InDelta(t, (4.0+2.0+5.0)/3.0, rec.RatingAvg, 1e-9)
	require.Equal(t, int64(3), rec.RatingCount)
}

func TestDeliveryStats(t *testing.T) {
	eng := testEngine()
	rec := newRecord("w-1", RoleEmployee)

	eng.applyBatch(rec, []*Event{
		{Type: EventDelivery, Value: 25, Metadata: datatypes.JSON(`{"on_time":true,"estimated_minutes":30}`)},
		{Type: EventDelivery, Value: 55, Metadata: datatypes.JSON(`{"on_time":false,"estimated_minutes":30}`)},
	})
	require.Equal(t, int64(2), rec.DeliveryCount)
	require.Equal(t, int64(1), rec.OnTimeCount)
	require.InDelta(t, 50.0, rec.OnTimePercentage(), 1e-9)
	require.InDelta(t, 40.0, rec.AvgDeliveryMinutes(), 1e-9)
}

func TestCustomerWarningThresholds(t *testing.T) {
	eng := testEngine()

	registered := newRecord("c-1", RoleCustomer)
	eng.applyBatch(registered, []*Event{{Type: EventWarning}, {Type: EventWarning}})
	require.Equal(t, TierRegistered, registered.CustomerTier)
	require.True(t, eng.nearWarningThreshold(registered))

	eng.applyBatch(registered, []*Event{{Type: EventWarning}})
	require.Equal(t, TierDeregistered, registered.CustomerTier)
	require.True(t, registered.Blacklisted)

	vip := newRecord("c-2", RoleCustomer)
	vip.CustomerTier = TierVIP
	eng.applyBatch(vip, []*Event{{Type: EventWarning}, {Type: EventWarning}, {Type: EventWarning}})
	require.Equal(t, TierVIP, vip.CustomerTier)
	require.False(t, vip.Blacklisted)

	eng.applyBatch(vip, []*Event{{Type: EventWarning}, {Type: EventWarning}})
	require.Equal(t, TierDeregistered, vip.CustomerTier)
	require.True(t, vip.Blacklisted)
}

func TestDeregistrationIsTerminal(t *testing.T) {
	eng := testEngine()
	rec := newRecord("c-1", RoleCustomer)
	rec.CustomerTier = TierDeregistered
	rec.Blacklisted = true
	rec.WarningCount = 3

	eng.applyBatch(rec, []*Event{{Type: EventWarning}})
	require.Equal(t, 3, rec.WarningCount)
	require.Equal(t, TierDeregistered, rec.CustomerTier)
}

func TestWarningDisputeFlow(t *testing.T) {
	eng := testEngine()
	rec := newRecord("c-1", RoleCustomer)

	eng.applyBatch(rec, []*Event{{Type: EventWarning}, {Type: EventDisputeOpened}})
	require.Equal(t, 1, rec.WarningCount)
	require.True(t, rec.ActiveDispute)

	// adjudicated in the customer's favor
	eng.applyBatch(rec, []*Event{{Type: EventWarningReverted}, {Type: EventDisputeClosed}})
	require.Equal(t, 0, rec.WarningCount)
	require.False(t, rec.ActiveDispute)
}
