package reputation

import (
	"encoding/json"

	"delivery-dispatch/pkg/config"
)

// engine applies ledger events to a Record. It is pure state transition
// logic; persistence and locking live in the evaluator.
type engine struct {
	cfg config.ReputationConfig
}

// applyBatch folds a batch of unevaluated events into the record and reports
// whether anything changed. Every compliment in the batch grants one offset
// credit; a complaint consumes a credit instead of counting, so the demotion
// threshold only ever sees net complaints for the pass. Credits left over
// cancel complaints outstanding from earlier passes.
func (e engine) applyBatch(rec *Record, events []*Event) bool {
	before := *rec

	credits := 0
	if rec.Role != RoleCustomer && rec.EmployeeStatus != EmployeeFired {
		for _, ev := range events {
			if ev.Type == EventCompliment {
				credits++
			}
		}
	}

	for _, ev := range events {
		switch rec.Role {
		case RoleCustomer:
			e.applyCustomer(rec, ev)
		default:
			if ev.Type == EventComplaint && credits > 0 && rec.EmployeeStatus != EmployeeFired {
				credits--
				continue
			}
			e.applyEmployee(rec, ev)
		}
	}

	for credits > 0 && rec.ComplaintCount > 0 && rec.EmployeeStatus != EmployeeFired {
		credits--
		rec.ComplaintCount--
	}

	return *rec != before
}

func (e engine) applyEmployee(rec *Record, ev *Event) {
	switch ev.Type {
	case EventRating:
		rec.RatingAvg = rec.RatingAvg + (float64(ev.Value)-rec.RatingAvg)/float64(rec.RatingCount+1)
		rec.RatingCount++

	case EventDelivery:
		var meta deliveryMeta
		if len(ev.Metadata) > 0 {
			_ = json.Unmarshal(ev.Metadata, &meta)
		}
		rec.DeliveryCount++
		rec.TotalDeliveryMinutes += ev.Value
		if meta.OnTime {
			rec.OnTimeCount++
		}

	case EventCompliment:
		if rec.EmployeeStatus == EmployeeFired {
			return
		}
		// complaint offsetting happens in applyBatch; here only bonus progress
		rec.ComplimentCount++
		if rec.ComplimentCount >= e.cfg.BonusThreshold {
			rec.BonusEligible = true
			rec.BonusCount++
			rec.ComplimentCount = 0
		}

	case EventComplaint:
		if rec.EmployeeStatus == EmployeeFired {
			return
		}
		rec.ComplaintCount++
		if rec.ComplaintCount >= e.cfg.DemotionThreshold {
			rec.DemotionCount++
			rec.ComplaintCount = 0
			if rec.EmployeeStatus == EmployeeActive {
				rec.EmployeeStatus = EmployeeDemoted
			}
			if rec.DemotionCount >= e.cfg.TerminationThreshold {
				rec.EmployeeStatus = EmployeeFired
				rec.BonusEligible = false
			}
		}
	}
}

func (e engine) applyCustomer(rec *Record, ev *Event) {
	switch ev.Type {
	case EventWarning:
		if rec.CustomerTier == TierDeregistered {
			return
		}
		rec.WarningCount++
		if rec.WarningCount >= e.warningThreshold(rec) {
			rec.CustomerTier = TierDeregistered
			rec.Blacklisted = true
			rec.ActiveDispute = false
		}

	case EventWarningReverted:
		if rec.WarningCount > 0 {
			rec.WarningCount--
		}

	case EventDisputeOpened:
		if rec.CustomerTier != TierDeregistered {
			rec.ActiveDispute = true
		}

	case EventDisputeClosed:
		rec.ActiveDispute = false
	}
}

func (e engine) warningThreshold(rec *Record) int {
	if rec.CustomerTier == TierVIP {
		return e.cfg.WarningThresholdVIP
	}
	return e.cfg.WarningThresholdRegistered
}

// Derived flags. Never stored, always recomputed from the live counters.

func (e engine) nearDemotion(rec *Record) bool {
	return rec.EmployeeStatus != EmployeeFired && rec.ComplaintCount == e.cfg.DemotionThreshold-1
}

func (e engine) nearFiring(rec *Record) bool {
	return rec.EmployeeStatus != EmployeeFired && rec.DemotionCount == e.cfg.TerminationThreshold-1
}

func (e engine) nearWarningThreshold(rec *Record) bool {
	return rec.CustomerTier != TierDeregistered && rec.WarningCount == e.warningThreshold(rec)-1
}
