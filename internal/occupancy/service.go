package occupancy

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/events"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
)

const maxSlotName = 60

// Service manages the slot catalogue: creation and activation.
type Service struct {
	store      store.Store
	reconciler *Reconciler
}

func NewService(st store.Store, reconciler *Reconciler) *Service {
	return &Service{store: st, reconciler: reconciler}
}

// Apply forwards a toggle batch to the reconciler.
func (s *Service) Apply(ctx context.Context, toggles []Toggle) []ToggleResult {
	return s.reconciler.Apply(ctx, toggles)
}

// List returns slots ordered by id.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]model.Slot, error) {
	slots, err := s.store.ListSlots(ctx, activeOnly)
	if err != nil {
		return nil, apperr.Store(err, "list slots")
	}
	return slots, nil
}

// Get returns one slot.
func (s *Service) Get(ctx context.Context, id int64) (*model.Slot, error) {
	slot, err := s.store.GetSlot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "slot %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store(err, "load slot")
	}
	return slot, nil
}

// CreateSlot adds an active, free slot.
func (s *Service) CreateSlot(ctx context.Context, name string) (*model.Slot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "name is required")
	}
	if utf8.RuneCountInString(name) > maxSlotName {
		return nil, apperr.New(apperr.KindInvalidInput, "name must be at most %d characters", maxSlotName)
	}

	slot := &model.Slot{Name: name, Active: true}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return nil, apperr.Store(err, "create slot")
	}
	s.reconciler.sink.Publish(ctx, events.TopicSlotUpdated, events.PayloadFor(slot))
	s.reconciler.log.Info().Int64("slot_id", slot.ID).Str("name", slot.Name).Msg("slot created")
	return slot, nil
}

// Activate puts a slot back into service. A slot that was inactive and is
// free cascades its waitlist unless a reservation is imminent.
func (s *Service) Activate(ctx context.Context, id int64) (*model.Slot, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate takes a slot out of availability and waitlist logic.
func (s *Service) Deactivate(ctx context.Context, id int64) (*model.Slot, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) (*model.Slot, error) {
	r := s.reconciler
	var (
		slot       model.Slot
		runCascade bool
	)
	err := s.store.WithSlotLock(ctx, id, func(tx store.Store, locked *model.Slot) error {
		changed := locked.Active != active
		if changed {
			locked.Active = active
			if err := tx.SaveSlot(ctx, locked); err != nil {
				return apperr.Store(err, "save slot")
			}
		}
		if changed && active && !locked.Occupied {
			imminent, err := tx.HasImminent(ctx, id, r.now().UTC(), r.lookAhead)
			if err != nil {
				return apperr.Store(err, "check imminent reservations")
			}
			runCascade = !imminent
		}
		slot = *locked
		return nil
	})
	if err != nil {
		return nil, lockErr(err, id)
	}

	r.sink.Publish(ctx, events.TopicSlotUpdated, events.PayloadFor(&slot))
	if runCascade {
		if _, err := r.cascade.NotifyAndClear(ctx, &slot); err != nil {
			r.log.Error().Err(err).Int64("slot_id", id).Msg("waitlist cascade failed")
		}
	}
	return &slot, nil
}
