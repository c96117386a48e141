package reservation

import (
	"context"
	"time"

	"parking-status-backend/internal/store"
)

// ConflictChecker decides whether a candidate window collides with the
// pending, active or in-use reservations of a slot. Windows are half-open,
// so a reservation ending at 10:00 does not block one starting at 10:00.
//
// Callers that act on the answer must build the checker from the store
// handed to them by WithSlotLock.
type ConflictChecker struct {
	store store.ReservationStore
}

func NewConflictChecker(rs store.ReservationStore) ConflictChecker {
	return ConflictChecker{store: rs}
}

func (c ConflictChecker) Conflicts(ctx context.Context, slotID int64, from, to time.Time) (bool, error) {
	n, err := c.store.CountOverlapping(ctx, slotID, from.UTC(), to.UTC())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
