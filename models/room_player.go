package models

import (
	"time"
)

type RoomPlayer struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	RoomCode string    `json:"-" gorm:"not null;index"`
	Nickname string    `json:"nickname" gorm:"not null"`
	IsHost   bool      `json:"isHost" gorm:"not null;default:false"`
	JoinedAt time.Time `json:"joinedAt"`
}
