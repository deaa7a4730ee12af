package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Meeting is a recurring meeting the bot joins on a cron schedule, or on
// demand through its named webhook.
type Meeting struct {
	Name          string `json:"name"`
	MeetingURL    string `json:"meeting_url"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Schedule      string `json:"schedule,omitempty"`
	// ReplyTo is the channel that receives this meeting's report, e.g. "telegram:123".
	ReplyTo string `json:"reply_to,omitempty"`
	Enabled bool   `json:"enabled"`
}

// MeetingStore is a JSON-file-backed store for scheduled meetings.
type MeetingStore struct {
	path string
	mu   sync.RWMutex
}

// NewMeetingStore creates a store at the given file path.
func NewMeetingStore(path string) *MeetingStore {
	return &MeetingStore{path: path}
}

// Path returns the file path used by this store.
func (s *MeetingStore) Path() string {
	return s.path
}

// List returns all meetings. Returns an empty slice if the file doesn't exist.
func (s *MeetingStore) List() ([]*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meetings, err := s.load()
	if err != nil {
		return nil, err
	}
	if meetings == nil {
		return []*Meeting{}, nil
	}
	return meetings, nil
}

// Get finds a meeting by name.
func (s *MeetingStore) Get(name string) (*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meetings, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, m := range meetings {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("meeting not found: %s", name)
}

// Add appends a meeting. Names are unique.
func (s *MeetingStore) Add(m *Meeting) error {
	if m.Name == "" {
		return fmt.Errorf("meeting name is required")
	}
	if m.MeetingURL == "" {
		return fmt.Errorf("meeting url is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meetings, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range meetings {
		if existing.Name == m.Name {
			return fmt.Errorf("meeting already exists: %s", m.Name)
		}
	}
	return s.save(append(meetings, m))
}

// Remove deletes a meeting by name.
func (s *MeetingStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meetings, err := s.load()
	if err != nil {
		return err
	}
	for i, m := range meetings {
		if m.Name == name {
			meetings = append(meetings[:i], meetings[i+1:]...)
			return s.save(meetings)
		}
	}
	return fmt.Errorf("meeting not found: %s", name)
}

// SetEnabled toggles the enabled flag for a meeting.
func (s *MeetingStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meetings, err := s.load()
	if err != nil {
		return err
	}
	for _, m := range meetings {
		if m.Name == name {
			m.Enabled = enabled
			return s.save(meetings)
		}
	}
	return fmt.Errorf("meeting not found: %s", name)
}

func (s *MeetingStore) load() ([]*Meeting, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read meetings file: %w", err)
	}

	var meetings []*Meeting
	if err := json.Unmarshal(data, &meetings); err != nil {
		return nil, fmt.Errorf("unmarshal meetings: %w", err)
	}
	return meetings, nil
}

// save writes the list with a temp file and rename.
func (s *MeetingStore) save(meetings []*Meeting) error {
	data, err := json.MarshalIndent(meetings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meetings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create meetings dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp meetings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp meetings file: %w", err)
	}
	return nil
}
