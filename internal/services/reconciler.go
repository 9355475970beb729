package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// reconcileOrder is the order in which kinds are swept.
var reconcileOrder = []models.EntityKind{
	models.KindUser,
	models.KindGroup,
	models.KindCourse,
	models.KindChat,
	models.KindAlert,
}

// Reconciler drops ledger ids whose target has been deleted. Listing
// already skips such ids; the sweep keeps ledgers from growing stale.
type Reconciler struct {
	store     store.Store
	batchSize int
	interval  time.Duration
	logger    *logging.Logger
}

type ReconcileStats struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Dropped  int `json:"dropped"`
	Corrupt  int `json:"corrupt"`
}

func NewReconciler(st store.Store, batchSize int, interval time.Duration, logger *logging.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default
	}
	return &Reconciler{store: st, batchSize: batchSize, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("ledger reconcile failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

// RunOnce sweeps every kind once, one transaction per batch.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	log := r.logger.WithField("run_id", uuid.NewString())
	started := time.Now()

	for _, kind := range reconcileOrder {
		var after int64
		for {
			var n int
			err := store.WithTx(ctx, r.store, func(tx store.Tx) error {
				batch, err := tx.Scan(ctx, kind, after, r.batchSize)
				if err != nil {
					return err
				}
				n = len(batch)
				for _, e := range batch {
					after = e.Ref().ID
					stats.Scanned++
					if err := r.repair(ctx, tx, e, &stats, log); err != nil {
						return fmt.Errorf("repairing %s: %w", e.Ref(), err)
					}
				}
				return nil
			})
			if err != nil {
				return stats, err
			}
			if n < r.batchSize {
				break
			}
		}
	}

	log.Info("ledger reconcile finished", logging.Fields{
		"scanned":     stats.Scanned,
		"repaired":    stats.Repaired,
		"dropped":     stats.Dropped,
		"corrupt":     stats.Corrupt,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return stats, nil
}

func (r *Reconciler) repair(ctx context.Context, tx store.Tx, e models.Entity, stats *ReconcileStats, log *logging.Logger) error {
	var locked models.Entity
	for _, field := range models.LedgerFields[e.Ref().Kind] {
		ids, err := ledger.IDs(e, field)
		var formatErr *ledger.FormatError
		if errors.As(err, &formatErr) {
			stats.Corrupt++
			log.Error("corrupt ledger", logging.Fields{
				"entity": e.Ref().String(),
				"field":  string(field),
				"token":  formatErr.Token,
			})
			continue
		}
		if err != nil {
			return err
		}
		target, err := models.TargetKind(e, field)
		if err != nil {
			return err
		}

		var stale []int64
		for _, id := range ids {
			_, err := tx.Get(ctx, models.Ref{Kind: target, ID: id})
			if errors.Is(err, store.ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			if err != nil {
				return err
			}
		}
		if len(stale) == 0 {
			continue
		}

		if locked == nil {
			if locked, err = tx.Lock(ctx, e.Ref()); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			stats.Repaired++
		}
		for _, id := range stale {
			removed, err := removeAndSave(ctx, tx, locked, field, id)
			if err != nil {
				return err
			}
			if removed {
				stats.Dropped++
			}
		}
	}
	return nil
}
