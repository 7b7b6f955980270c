package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shutterbook/services/settlement"
	"shutterbook/services/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Reconciler resolves settlement records left in processing.
type Reconciler interface {
	Reconcile(ctx context.Context) (settlement.ReconcileResult, error)
}

// WorkerConfig wires the asynq server and scheduler.
type WorkerConfig struct {
	Redis             asynq.RedisClientOpt
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
}

// Worker runs the periodic sweep and reconciliation through asynq.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	stop      context.CancelFunc
	logger    *zap.Logger
}

// StartSettlementWorker registers the periodic tasks and starts processing in the background.
func StartSettlementWorker(cfg WorkerConfig, sweeper *Sweeper, reconciler Reconciler, logger *zap.Logger) (*Worker, error) {
	srv := asynq.NewServer(
		cfg.Redis,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeSweepExpired, handleSweepExpired(sweeper, logger))
	mux.HandleFunc(tasks.TypeSweepParty, handleSweepParty(sweeper, logger))
	mux.HandleFunc(tasks.TypeReconcile, handleReconcile(reconciler, logger))

	scheduler := asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.SweepInterval), tasks.NewSweepExpiredTask(cfg.SweepInterval)); err != nil {
		return nil, fmt.Errorf("registering sweep task: %w", err)
	}
	if _, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.ReconcileInterval), tasks.NewReconcileTask(cfg.ReconcileInterval)); err != nil {
		return nil, fmt.Errorf("registering reconcile task: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	w := &Worker{server: srv, scheduler: scheduler, stop: stop, logger: logger}

	go monitorRedisConnection(ctx, cfg.Redis, logger)

	// Start async worker with retry logic
	go func() {
		logger.Info("Starting settlement worker")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			err := srv.Start(mux)
			if err == nil {
				break
			}
			logger.Error("Failed to start settlement worker",
				zap.Int("attempt", attempts), zap.Int("maxAttempts", maxAttempts), zap.Error(err))
			if attempts == maxAttempts {
				logger.Error("Settlement worker gave up; sweeps will only run on demand")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempts*2) * time.Second):
			}
		}
	}()

	if err := scheduler.Start(); err != nil {
		stop()
		return nil, fmt.Errorf("starting scheduler: %w", err)
	}
	return w, nil
}

// Shutdown stops the scheduler and waits for in-flight tasks.
func (w *Worker) Shutdown() {
	w.stop()
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.logger.Info("Settlement worker stopped")
}

func handleSweepExpired(sweeper *Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if _, err := sweeper.Sweep(ctx, time.Now()); err != nil {
			logger.Error("Scheduled sweep failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func handleSweepParty(sweeper *Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p tasks.SweepPartyPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("Invalid sweep payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		_, err := sweeper.SweepParty(ctx, p.UserID, time.Now())
		return err
	}
}

func handleReconcile(reconciler Reconciler, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if _, err := reconciler.Reconcile(ctx); err != nil {
			logger.Error("Scheduled reconciliation failed", zap.Error(err))
			return err
		}
		return nil
	}
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func monitorRedisConnection(ctx context.Context, opt asynq.RedisClientOpt, logger *zap.Logger) {
	client := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	defer client.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(ctx).Err(); err != nil && ctx.Err() == nil {
				logger.Warn("Redis connection lost", zap.Error(err))
			}
		}
	}
}
