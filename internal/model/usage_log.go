package model

import "time"

// UsageEventUpdate is the event kind written when a slot's occupancy changes value.
const UsageEventUpdate = "update"

// UsageLog is an append-only record of occupancy changes, used for reporting.
type UsageLog struct {
	ID        int64     `gorm:"primaryKey"`
	SlotID    int64     `gorm:"index;not null"`
	Event     string    `gorm:"size:32;not null;default:update"`
	CreatedAt time.Time `gorm:"index;not null"`
}
