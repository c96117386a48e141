package model

import "time"

// WaitlistEntry is a standing request to be told when a slot frees up.
// At most one unnotified entry exists per (SlotID, Email).
type WaitlistEntry struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	SlotID     int64      `gorm:"not null;uniqueIndex:idx_waitlist_pending,where:notified_at IS NULL" json:"slotId"`
	Email      string     `gorm:"size:254;not null;uniqueIndex:idx_waitlist_pending,where:notified_at IS NULL" json:"email"`
	NotifiedAt *time.Time `gorm:"index" json:"notifiedAt,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updatedAt"`
}
