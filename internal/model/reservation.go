package model

import (
	"time"

	"gorm.io/datatypes"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusActive    ReservationStatus = "active"
	StatusInUse     ReservationStatus = "in_use"
	StatusCancelled ReservationStatus = "cancelled"
	StatusExpired   ReservationStatus = "expired"
	StatusCompleted ReservationStatus = "completed"
)

// BlockingStatuses are the states that hold a slot's time window.
var BlockingStatuses = []ReservationStatus{StatusPending, StatusActive, StatusInUse}

// Terminal reports whether no further transitions are allowed.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// ReservationMeta is the small metadata bag stored alongside a reservation.
type ReservationMeta struct {
	CodeExpiresAt time.Time `json:"otp_expires_at"`
	CodeAttempts  int       `json:"otp_attempts"`
}

// Reservation is a time-bounded claim on a slot, protected by a one-time code.
type Reservation struct {
	ID     int64  `gorm:"primaryKey" json:"id"`
	SlotID int64  `gorm:"not null;index:idx_reservation_window,priority:1" json:"slotId"`
	Email  string `gorm:"size:254;not null;index" json:"email"`
	Name   string `gorm:"size:60" json:"name,omitempty"`
	Code   string `gorm:"size:8;not null;uniqueIndex" json:"-"`

	From time.Time `gorm:"column:starts_at;not null;index:idx_reservation_window,priority:2" json:"from"`
	To   time.Time `gorm:"column:ends_at;not null;index:idx_reservation_window,priority:3" json:"to"`

	Status ReservationStatus                   `gorm:"size:16;not null;index" json:"status"`
	Meta   datatypes.JSONType[ReservationMeta] `json:"-"`

	CreatedAt   time.Time  `gorm:"not null" json:"createdAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CanceledAt  *time.Time `json:"canceledAt,omitempty"`
	CheckedInAt *time.Time `json:"checkedInAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Contains reports whether t falls inside the half-open window [From, To).
func (r Reservation) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Overlaps reports whether [from, to) intersects the reservation's window.
// Touching endpoints do not overlap.
func (r Reservation) Overlaps(from, to time.Time) bool {
	return r.From.Before(to) && r.To.After(from)
}
