package db

import (
	"context"
	"fmt"

	"github.com/zulandar/sociobot/internal/models"
	"gorm.io/gorm"
)

// Recorder appends agent interactions to the interactions table.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder returns a Recorder writing through db.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one interaction row.
func (r *Recorder) Record(ctx context.Context, in models.Interaction) error {
	if err := r.db.WithContext(ctx).Create(&in).Error; err != nil {
		return fmt.Errorf("db: record %s for %s: %w", in.Kind, in.MessageID, err)
	}
	return nil
}

// Recent returns up to limit interactions for agent, newest first. A
// non-empty channelID restricts the result to that channel.
func (r *Recorder) Recent(ctx context.Context, agent, channelID string, limit int) ([]models.Interaction, error) {
	q := r.db.WithContext(ctx).Where("agent = ?", agent)
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Interaction
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: recent interactions for %s: %w", agent, err)
	}
	return rows, nil
}
