package reputation

import (
	"context"
	"time"

	"delivery-dispatch/pkg/db/option"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EvaluateAccount folds all unevaluated ledger events of one account into
// its record. The record row and the pending events are locked in a single
// transaction, so concurrent resolutions against the same account cannot
// race past a threshold twice. Re-running with no pending events is a no-op.
func (s *Service) EvaluateAccount(ctx context.Context, accountID string) (bool, error) {
	var changed bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.records.WithTrx(tx).FindOne(ctx, &Record{AccountID: accountID},
			option.WithLockingUpdate())
		if err != nil {
			return err
		}

		events, err := s.events.WithTrx(tx).Find(ctx, &Event{AccountID: accountID},
			option.WithNull("evaluated_at"), byOldestFirst, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		fresh := rec == nil
		if fresh {
			rec = newRecord(accountID, events[0].Role)
		}

		changed = s.eng.applyBatch(rec, events)

		if fresh {
			if err := s.records.WithTrx(tx).Create(ctx, rec); err != nil {
				return err
			}
		} else if err := tx.Save(rec).Error; err != nil {
			return err
		}

		ids := make([]string, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		now := time.Now().UTC()
		return tx.Model(&Event{}).Where("id IN ?", ids).
			Update("evaluated_at", now).Error
	})
	if err != nil {
		return false, err
	}

	if changed {
		zap.L().Info("reputation record updated", zap.String("account_id", accountID))
	}
	return changed, nil
}
