package store

import (
	"context"
	"errors"
	"time"

	"parking-status-backend/internal/model"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("record not found")

// SlotStore persists slot state.
type SlotStore interface {
	CreateSlot(ctx context.Context, slot *model.Slot) error
	GetSlot(ctx context.Context, id int64) (*model.Slot, error)
	ListSlots(ctx context.Context, activeOnly bool) ([]model.Slot, error)
	SaveSlot(ctx context.Context, slot *model.Slot) error
}

// ReservationStore persists reservations and answers window queries.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	SaveReservation(ctx context.Context, r *model.Reservation) error
	// CountOverlapping counts blocking reservations on the slot whose window
	// intersects [from, to).
	CountOverlapping(ctx context.Context, slotID int64, from, to time.Time) (int64, error)
	// FindDue returns the most recent pending or active reservation whose
	// window contains now, or nil.
	FindDue(ctx context.Context, slotID int64, now time.Time) (*model.Reservation, error)
	// FindCompletable returns the most recently checked-in in_use reservation
	// whose window ended no earlier than now-tolerance, or nil.
	FindCompletable(ctx context.Context, slotID int64, now time.Time, tolerance time.Duration) (*model.Reservation, error)
	// HasImminent reports whether a blocking reservation is running now or
	// starts within lookAhead.
	HasImminent(ctx context.Context, slotID int64, now time.Time, lookAhead time.Duration) (bool, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time) ([]model.Reservation, error)
}

// WaitlistStore persists waitlist subscriptions.
type WaitlistStore interface {
	// FindOrCreateWaitlist returns the unnotified entry for (slotID, email),
	// creating it when absent. created reports whether a row was inserted.
	FindOrCreateWaitlist(ctx context.Context, slotID int64, email string) (entry *model.WaitlistEntry, created bool, err error)
	PendingWaitlist(ctx context.Context, slotID int64) ([]model.WaitlistEntry, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	DeleteNotified(ctx context.Context, slotID int64) (int64, error)
	PurgeNotifiedBefore(ctx context.Context, before time.Time) (int64, error)
}

// UsageStore appends and reads occupancy change logs.
type UsageStore interface {
	AppendUsage(ctx context.Context, slotID int64, event string, at time.Time) error
	UsageSince(ctx context.Context, since time.Time) ([]model.UsageLog, error)
}

// PushStore persists browser push subscriptions and their slot mapping.
type PushStore interface {
	UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription, slotIDs []int64) error
	GetPushSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	PushSubscriptionsForSlot(ctx context.Context, slotID int64) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	SlotStore
	ReservationStore
	WaitlistStore
	UsageStore
	PushStore

	// WithSlotLock runs fn inside a transaction that holds an exclusive lock
	// on the slot row. The Store handed to fn is bound to that transaction;
	// returning an error rolls it back. The lock is released on every exit
	// path. Calls do not nest.
	WithSlotLock(ctx context.Context, slotID int64, fn func(tx Store, slot *model.Slot) error) error
}
