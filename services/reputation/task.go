package reputation

import (
	"context"
	"encoding/json"

	"delivery-dispatch/pkg/config"
	"delivery-dispatch/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type evaluateAccountPayload struct {
	AccountID string `json:"account_id"`
}

// NewEvaluateAccountTask builds the per-account evaluation task. Enqueued by
// the HTTP services after they append ledger events so records converge
// without waiting for the nightly sweep.
func NewEvaluateAccountTask(accountID string) (*asynq.Task, error) {
	payload, err := json.Marshal(evaluateAccountPayload{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ReputationEvaluateAccount, payload, asynq.Queue("reputation")), nil
}

func NewEvaluateAllTask() *asynq.Task {
	return asynq.NewTask(taskname.ReputationEvaluateAll, nil, asynq.Queue("reputation"))
}

// RegisterTaskHandlers wires the sweep and per-account tasks into the asynq
// mux run by cmd/worker.
func RegisterTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.ReputationEvaluateAll, func(ctx context.Context, t *asynq.Task) error {
		_, err := svc.EvaluateAll(ctx)
		return err
	})

	mux.HandleFunc(taskname.ReputationEvaluateAccount, func(ctx context.Context, t *asynq.Task) error {
		var payload evaluateAccountPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("malformed evaluate_account payload", zap.Error(err))
			return nil
		}
		_, err := svc.EvaluateAccount(ctx, payload.AccountID)
		return err
	})
}

// RegisterScheduler runs the nightly sweep enqueue alongside the worker.
func RegisterScheduler(lc fx.Lifecycle, cfg *config.Config) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		&asynq.SchedulerOpts{},
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := scheduler.Register("0 3 * * *", NewEvaluateAllTask()); err != nil {
				return err
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					zap.L().Error("scheduler stopped", zap.Error(err))
				}
			}()
			zap.L().Info("reputation sweep scheduled", zap.String("cron", "0 3 * * *"))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			return nil
		},
	})
}
