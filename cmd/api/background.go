package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

// runEvery invokes fn on every tick until ctx is cancelled.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// startSweeps schedules the in-process sweep loop. Leases keep concurrent replicas from
// sweeping the same batch, so every instance may run the loop.
func startSweeps(ctx context.Context, wg *sync.WaitGroup, sweeps services.SweepService, interval time.Duration, logger *zap.Logger) {
	if sweeps == nil {
		return
	}
	jobs := []string{services.SweepJobCartPurge, services.SweepJobUnpaidOrders}
	runEvery(ctx, wg, interval, func(ctx context.Context) {
		for _, job := range jobs {
			runCtx, cancel := context.WithTimeout(ctx, interval)
			report, err := sweeps.Run(runCtx, job)
			cancel()
			if err != nil {
				logger.Error("sweep failed", zap.String("job", job), zap.Error(err))
				continue
			}
			if !report.Acquired {
				logger.Debug("sweep skipped; lease held elsewhere", zap.String("job", job))
				continue
			}
			logger.Info("sweep finished",
				zap.String("job", job),
				zap.Int("processed", report.Processed),
				zap.Int("warned", report.Warned),
				zap.Int("failed", report.Failed),
				zap.Duration("duration", report.Duration),
			)
		}
	})
}
