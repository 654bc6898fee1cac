package reputation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SweepFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

type SweepSummary struct {
	Accounts   int            `json:"accounts"`
	Changed    int            `json:"changed"`
	Unchanged  int            `json:"unchanged"`
	Failed     int            `json:"failed"`
	Failures   []SweepFailure `json:"failures,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// EvaluateAll sweeps every account with pending ledger events through the
// evaluator. Accounts are independent units of work fanned out over a
// bounded pool; one account's failure lands in the summary and never aborts
// the rest of the sweep.
func (s *Service) EvaluateAll(ctx context.Context) (*SweepSummary, error) {
	start := time.Now()

	var accountIDs []string
	if err := s.db.WithContext(ctx).Model(&Event{}).
		Where("evaluated_at IS NULL").
		Distinct("account_id").
		Pluck("account_id", &accountIDs).Error; err != nil {
		return nil, err
	}

	summary := &SweepSummary{Accounts: len(accountIDs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())

	for _, accountID := range accountIDs {
		accountID := accountID
		g.Go(func() error {
			changed, err := s.EvaluateAccount(gctx, accountID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				summary.Failures = append(summary.Failures, SweepFailure{
					AccountID: accountID,
					Error:     err.Error(),
				})
				zap.L().Warn("sweep failed for account",
					zap.String("account_id", accountID), zap.Error(err))
			case changed:
				summary.Changed++
			default:
				summary.Unchanged++
			}
			return nil
		})
	}

	// workers report failures through the summary, never through Wait
	_ = g.Wait()

	summary.DurationMS = time.Since(start).Milliseconds()
	zap.L().Info("reputation sweep finished",
		zap.Int("accounts", summary.Accounts),
		zap.Int("changed", summary.Changed),
		zap.Int("failed", summary.Failed),
		zap.Int64("duration_ms", summary.DurationMS),
	)
	return summary, nil
}

func (s *Service) concurrency() int {
	if s.cfg.SweepConcurrency > 0 {
		return s.cfg.SweepConcurrency
	}
	return 1
}
