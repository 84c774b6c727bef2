package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/models"
	"gorm.io/gorm"
)

// DBStore keeps cursors in the cursors table. Writes from one process are
// serialized; each runs in a transaction.
type DBStore struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewDBStore returns a DBStore. The schema must already be migrated.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(ctx context.Context, agent, channelID string) (string, bool, error) {
	var row models.Cursor
	err := s.db.WithContext(ctx).
		Where("agent = ? AND channel_id = ?", agent, channelID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cursor: get %s/%s: %w", agent, channelID, err)
	}
	return row.MessageID, true, nil
}

func (s *DBStore) Set(ctx context.Context, agent, channelID, id string) error {
	if id == "" {
		return fmt.Errorf("cursor: empty id for channel %s", channelID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Cursor
		err := tx.Where("agent = ? AND channel_id = ?", agent, channelID).
			First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.Cursor{
				Agent:     agent,
				ChannelID: channelID,
				MessageID: id,
				UpdatedAt: time.Now(),
			}).Error
		case err != nil:
			return err
		}
		if chat.CompareIDs(id, row.MessageID) <= 0 {
			return nil
		}
		return tx.Model(&models.Cursor{}).
			Where("agent = ? AND channel_id = ?", agent, channelID).
			Updates(map[string]interface{}{"message_id": id, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return fmt.Errorf("cursor: set %s/%s: %w", agent, channelID, err)
	}
	return nil
}

func (s *DBStore) All(ctx context.Context, agent string) (map[string]string, error) {
	var rows []models.Cursor
	if err := s.db.WithContext(ctx).Where("agent = ?", agent).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("cursor: list %s: %w", agent, err)
	}
	m := make(map[string]string, len(rows))
	for _, r := range rows {
		m[r.ChannelID] = r.MessageID
	}
	return m, nil
}
