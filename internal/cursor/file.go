package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/zulandar/sociobot/internal/chat"
)

// FileStore keeps one JSON object per agent, channel id to message id, in
// <Dir>/last_processed_messages_<agent>.json.
type FileStore struct {
	Dir string

	mu sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the cursor file for agent.
func (s *FileStore) Path(agent string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("last_processed_messages_%s.json", agent))
}

func (s *FileStore) Get(_ context.Context, agent, channelID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load(agent)
	if err != nil {
		return "", false, err
	}
	id, ok := m[channelID]
	return id, ok, nil
}

func (s *FileStore) Set(_ context.Context, agent, channelID, id string) error {
	if id == "" {
		return fmt.Errorf("cursor: empty id for channel %s", channelID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load(agent)
	if err != nil {
		return err
	}
	if cur, ok := m[channelID]; ok && chat.CompareIDs(id, cur) <= 0 {
		return nil
	}
	m[channelID] = id
	return s.save(agent, m)
}

func (s *FileStore) All(_ context.Context, agent string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(agent)
}

// load reads the cursor map. A missing file is empty; so is a corrupt one,
// which is logged and later overwritten by the next save.
func (s *FileStore) load(agent string) (map[string]string, error) {
	path := s.Path(agent)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cursor: read %s: %w", path, err)
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("cursor: ignoring corrupt %s: %v", path, err)
		return map[string]string{}, nil
	}
	return m, nil
}

// save writes through a temp file and rename so readers never observe a
// partially written file.
func (s *FileStore) save(agent string, m map[string]string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("cursor: create %s: %w", s.Dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("cursor: encode: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".cursor-*.tmp")
	if err != nil {
		return fmt.Errorf("cursor: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cursor: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cursor: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.Path(agent)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cursor: rename into %s: %w", s.Path(agent), err)
	}
	return nil
}
