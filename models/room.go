package models

import (
	"time"
)

type Room struct {
	RoomCode   string    `json:"roomCode" gorm:"primaryKey"`
	HostSecret string    `json:"-" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`

	// Relationships
	Players []RoomPlayer `json:"players,omitempty" gorm:"foreignKey:RoomCode;constraint:OnDelete:CASCADE"`
}
