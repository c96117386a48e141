package model

import "time"

// Slot represents a single physical parking space.
type Slot struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	Occupied  bool      `gorm:"not null;default:false" json:"occupied"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// Available reports whether the slot is free and participates in availability.
func (s Slot) Available() bool {
	return s.Active && !s.Occupied
}
