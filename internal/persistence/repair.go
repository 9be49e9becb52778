package persistence

import (
	"context"
	"time"

	"codepulse/internal/domain/session"
	"codepulse/internal/metrics"
	"codepulse/pkg/logger"
)

const repairBatchSize = 100

// RepairWorker periodically replays partially persisted sessions into the
// store that originally missed them
type RepairWorker struct {
	repairs  session.RepairLog
	stores   map[string]session.Store
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewRepairWorker(repairs session.RepairLog, stores []session.Store, interval time.Duration) *RepairWorker {
	byName := make(map[string]session.Store, len(stores))
	for _, st := range stores {
		byName[st.Name()] = st
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RepairWorker{
		repairs:  repairs,
		stores:   byName,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the repair loop until Stop is called
func (w *RepairWorker) Start() {
	go w.run()
}

func (w *RepairWorker) run() {
	defer close(w.done)

	log := logger.Get().With("component", "repair_worker")
	log.Infow("repair worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if n, err := w.RunOnce(ctx); err != nil {
				log.Errorw("repair pass failed", "error", err)
			} else if n > 0 {
				log.Infow("repair pass completed", "repaired", n)
			}
			cancel()
		case <-w.stop:
			return
		}
	}
}

// RunOnce replays one batch of pending repairs and returns how many sessions
// were fixed
func (w *RepairWorker) RunOnce(ctx context.Context) (int, error) {
	log := logger.Get().With("component", "repair_worker")

	pending, err := w.repairs.ListPending(ctx, repairBatchSize)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, rec := range pending {
		st, ok := w.stores[rec.FailedStore]
		if !ok {
			log.Warnw("repair record names unknown store, skipping",
				"session_id", rec.SessionID, "store", rec.FailedStore)
			continue
		}

		sess, err := w.repairs.LoadSession(ctx, rec.SessionID)
		if err != nil {
			log.Errorw("failed to load session for repair",
				"session_id", rec.SessionID, "error", err)
			continue
		}

		if err := st.WriteSession(ctx, sess); err != nil {
			log.Warnw("repair write failed, will retry next pass",
				"session_id", rec.SessionID, "store", rec.FailedStore, "error", err)
			continue
		}

		if err := w.repairs.MarkRepaired(ctx, rec.SessionID, rec.FailedStore); err != nil {
			log.Errorw("failed to mark session repaired",
				"session_id", rec.SessionID, "error", err)
			continue
		}

		metrics.RepairsCompleted.Inc()
		repaired++
	}

	return repaired, nil
}

// Stop halts the repair loop and waits for the in-flight pass to finish
func (w *RepairWorker) Stop() {
	close(w.stop)
	<-w.done
}
