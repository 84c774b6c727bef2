package models

import "time"

// Interaction kinds.
const (
	InteractionReceived = "message_received"
	InteractionResponse = "agent_response"
	InteractionError    = "agent_error"
)

// Interaction captures one agent exchange for later debugging.
type Interaction struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Agent     string `gorm:"size:64;index:idx_agent_channel"`
	ChannelID string `gorm:"size:32;index:idx_agent_channel"`
	MessageID string `gorm:"size:64"`
	Kind      string `gorm:"size:32"`
	ExitCode  int
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}
