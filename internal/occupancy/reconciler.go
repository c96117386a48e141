// Package occupancy applies live occupied/free toggles to slots and keeps
// the slot's reservations in step with them.
package occupancy

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parking-status-backend/config"
	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/events"
	"parking-status-backend/internal/metrics"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
	"parking-status-backend/internal/waitlist"
)

// Cascader notifies a slot's waitlist. Implemented by waitlist.Cascade.
type Cascader interface {
	NotifyAndClear(ctx context.Context, slot *model.Slot) (waitlist.Outcome, error)
}

// Toggle sets the occupied flag of one slot.
type Toggle struct {
	SlotID   int64 `json:"id"`
	Occupied bool  `json:"occupied"`
}

// ToggleResult reports what happened to one slot of a batch.
type ToggleResult struct {
	SlotID  int64       `json:"id"`
	OK      bool        `json:"ok"`
	Changed bool        `json:"changed"`
	Slot    *model.Slot `json:"slot,omitempty"`
	// Reservation is the reservation moved to in_use or completed, if any.
	Reservation *model.Reservation `json:"reservation,omitempty"`
	Cascade     *waitlist.Outcome  `json:"cascade,omitempty"`
	Kind        apperr.Kind        `json:"error,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// Reconciler applies occupancy toggles.
type Reconciler struct {
	store       store.Store
	cascade     Cascader
	sink        events.Sink
	tolerance   time.Duration
	lookAhead   time.Duration
	concurrency int
	log         *zerolog.Logger
	now         func() time.Time
}

func NewReconciler(st store.Store, cascade Cascader, sink events.Sink, cfg config.OccupancyConfig, log *zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:       st,
		cascade:     cascade,
		sink:        sink,
		tolerance:   cfg.CompletionTolerance,
		lookAhead:   cfg.LookAhead,
		concurrency: cfg.BatchConcurrency,
		log:         log,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Apply processes a batch. Each slot is handled in its own transaction, so
// one failure never rolls back another. Toggles for the same slot run in
// the order given.
func (r *Reconciler) Apply(ctx context.Context, toggles []Toggle) []ToggleResult {
	results := make([]ToggleResult, len(toggles))

	bySlot := make(map[int64][]int)
	var order []int64
	for i, t := range toggles {
		if _, ok := bySlot[t.SlotID]; !ok {
			order = append(order, t.SlotID)
		}
		bySlot[t.SlotID] = append(bySlot[t.SlotID], i)
	}

	g := new(errgroup.Group)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, slotID := range order {
		idxs := bySlot[slotID]
		g.Go(func() error {
			for _, i := range idxs {
				res, err := r.ApplyOne(ctx, toggles[i])
				if err != nil {
					res = ToggleResult{SlotID: toggles[i].SlotID, Kind: apperr.KindOf(err), Message: apperr.Message(err)}
				}
				results[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ApplyOne sets one slot's occupied flag under its lock. Going occupied
// starts the reservation due now; going free completes the one checked in
// within the tolerance. Changes are logged for reporting, then slot_updated
// is published, and a freed active slot with nothing imminent cascades its
// waitlist.
func (r *Reconciler) ApplyOne(ctx context.Context, t Toggle) (ToggleResult, error) {
	if t.SlotID <= 0 {
		return ToggleResult{}, apperr.New(apperr.KindInvalidInput, "slot id must be positive")
	}

	res := ToggleResult{SlotID: t.SlotID}
	var (
		slot       model.Slot
		runCascade bool
	)
	err := r.store.WithSlotLock(ctx, t.SlotID, func(tx store.Store, locked *model.Slot) error {
		if locked.Occupied == t.Occupied {
			slot = *locked
			return nil
		}

		now := r.now().UTC()
		reservation, err := r.syncReservation(ctx, tx, t, now)
		if err != nil {
			return err
		}
		res.Reservation = reservation

		locked.Occupied = t.Occupied
		if err := tx.SaveSlot(ctx, locked); err != nil {
			return apperr.Store(err, "save slot")
		}
		if err := tx.AppendUsage(ctx, t.SlotID, model.UsageEventUpdate, now); err != nil {
			return apperr.Store(err, "append usage log")
		}

		if !t.Occupied && locked.Active {
			imminent, err := tx.HasImminent(ctx, t.SlotID, now, r.lookAhead)
			if err != nil {
				return apperr.Store(err, "check imminent reservations")
			}
			runCascade = !imminent
		}
		res.Changed = true
		slot = *locked
		return nil
	})
	if err != nil {
		return ToggleResult{}, lockErr(err, t.SlotID)
	}

	res.OK = true
	res.Slot = &slot
	metrics.IncOccupancy(transition(res.Changed, t.Occupied))
	r.sink.Publish(ctx, events.TopicSlotUpdated, events.PayloadFor(&slot))

	if runCascade {
		out, err := r.cascade.NotifyAndClear(ctx, &slot)
		if err != nil {
			r.log.Error().Err(err).Int64("slot_id", slot.ID).Msg("waitlist cascade failed")
		}
		res.Cascade = &out
	}
	return res, nil
}

func (r *Reconciler) syncReservation(ctx context.Context, tx store.Store, t Toggle, now time.Time) (*model.Reservation, error) {
	if t.Occupied {
		due, err := tx.FindDue(ctx, t.SlotID, now)
		if err != nil || due == nil {
			return nil, apperr.Store(err, "find due reservation")
		}
		due.Status = model.StatusInUse
		due.CheckedInAt = &now
		if err := tx.SaveReservation(ctx, due); err != nil {
			return nil, apperr.Store(err, "start reservation")
		}
		r.log.Info().Int64("reservation_id", due.ID).Int64("slot_id", t.SlotID).Msg("reservation in use")
		return due, nil
	}

	done, err := tx.FindCompletable(ctx, t.SlotID, now, r.tolerance)
	if err != nil || done == nil {
		return nil, apperr.Store(err, "find completable reservation")
	}
	done.Status = model.StatusCompleted
	done.CompletedAt = &now
	if err := tx.SaveReservation(ctx, done); err != nil {
		return nil, apperr.Store(err, "complete reservation")
	}
	r.log.Info().Int64("reservation_id", done.ID).Int64("slot_id", t.SlotID).Msg("reservation completed")
	return done, nil
}

func transition(changed, occupied bool) string {
	switch {
	case !changed:
		return "unchanged"
	case occupied:
		return "occupied"
	default:
		return "freed"
	}
}

func lockErr(err error, slotID int64) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, "slot %d not found", slotID)
	}
	return apperr.Store(err, "occupancy transaction")
}
