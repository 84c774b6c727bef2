package models

import "time"

// Cursor records the last processed message for one agent in one channel.
type Cursor struct {
	Agent     string `gorm:"primaryKey;size:64"`
	ChannelID string `gorm:"primaryKey;size:32"`
	MessageID string `gorm:"size:32;not null"`
	UpdatedAt time.Time
}
