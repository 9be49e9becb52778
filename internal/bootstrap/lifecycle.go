package bootstrap

import (
	"context"
	"time"

	"codepulse/pkg/logger"
)

// Lifecycle manages graceful shutdown of the pipeline
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 90 * time.Second,
	}
}

// Shutdown drains the pipeline front to back. Order matters:
// 1. HTTP server stops accepting events
// 2. Reconciler flushes every open session into the dispatcher
// 3. Coordinator finishes the in-flight store writes those flushes produced
// 4. Repair worker completes its pass
// 5. Fan-out hub detaches live subscribers
// 6. Kafka consumer closes to unblock ReadMessage, then the producer
// 7. Error tracker and logs flush
// 8. Store connections close last
func (l *Lifecycle) Shutdown(c *Container, cancel context.CancelFunc) {
	log := logger.Get().With("component", "lifecycle")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/8] Stopping HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	if err := c.Server.Shutdown(httpCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
	}
	httpCancel()

	log.Info("[2/8] Flushing open sessions...")
	flushCtx, flushCancel := context.WithTimeout(shutdownCtx, 30*time.Second)
	if err := c.Reconciler.Shutdown(flushCtx); err != nil {
		log.Errorw("Reconciler flush incomplete", "error", err)
	} else {
		log.Info("✓ Open sessions flushed")
	}
	flushCancel()

	log.Info("[3/8] Draining store writes...")
	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, 45*time.Second)
	if err := c.Coordinator.Drain(drainCtx); err != nil {
		log.Errorw("Store write drain incomplete", "error", err)
	} else {
		log.Info("✓ Store writes drained")
	}
	drainCancel()

	log.Info("[4/8] Stopping repair worker...")
	c.RepairWorker.Stop()

	log.Info("[5/8] Closing live feed...")
	c.Hub.Close()

	// Cancel the root context so the leaderboard consumer loop exits,
	// then close the reader to unblock any pending ReadMessage.
	log.Info("[6/8] Closing Kafka...")
	cancel()
	if err := c.FinalizedConsumer.Close(); err != nil {
		log.Errorw("Kafka consumer close failed", "error", err)
	}
	if err := c.Producer.Close(); err != nil {
		log.Errorw("Kafka producer close failed", "error", err)
	}

	log.Info("[7/8] Flushing error tracker and logs...")
	if c.ErrorTracker != nil {
		flushCtx, flushCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := c.ErrorTracker.Flush(flushCtx); err != nil {
			log.Errorw("Error tracker flush failed", "error", err)
		}
		flushCancel()
	}
	_ = logger.Sync()

	log.Info("[8/8] Closing store connections...")
	if err := c.Redis.Close(); err != nil {
		log.Errorw("Redis close failed", "error", err)
	}
	if err := c.CH.Close(); err != nil {
		log.Errorw("ClickHouse close failed", "error", err)
	}
	if err := c.PG.Close(); err != nil {
		log.Errorw("PostgreSQL close failed", "error", err)
	}

	log.Info("✓ Shutdown complete")
}
