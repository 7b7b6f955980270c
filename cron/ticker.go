package cron

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunLocal drives the sweep and reconciliation from in-process tickers. It is the
// fallback for local runs without redis and returns when ctx is cancelled.
func RunLocal(ctx context.Context, sweeper *Sweeper, reconciler Reconciler, sweepEvery, reconcileEvery time.Duration, logger *zap.Logger) {
	sweepTicker := time.NewTicker(sweepEvery)
	defer sweepTicker.Stop()
	reconcileTicker := time.NewTicker(reconcileEvery)
	defer reconcileTicker.Stop()

	logger.Info("Running local settlement scheduler",
		zap.Duration("sweepEvery", sweepEvery),
		zap.Duration("reconcileEvery", reconcileEvery))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-sweepTicker.C:
			if _, err := sweeper.Sweep(ctx, now); err != nil {
				logger.Error("Local sweep failed", zap.Error(err))
			}
		case <-reconcileTicker.C:
			if _, err := reconciler.Reconcile(ctx); err != nil {
				logger.Error("Local reconciliation failed", zap.Error(err))
			}
		}
	}
}
