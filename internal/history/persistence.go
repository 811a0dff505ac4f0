package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

const (
	// historyVersion is bumped when the schema changes.
	historyVersion = 1

	historyFileName = "history.json"
	appDirName      = "reachd"
)

// Transition is one notified reachability change.
type Transition struct {
	State reachability.State `json:"state"`
	At    time.Time          `json:"at"`
	Error string             `json:"error,omitempty"`
}

// History is the persisted transition log. It is loaded from and saved to
// ~/.local/state/reachd/history.json (respecting XDG_STATE_HOME).
type History struct {
	Version int `json:"version"`

	// Transitions holds the most recent changes, oldest first.
	Transitions []Transition `json:"transitions"`
	// Counts is the all-time number of transitions into each state.
	Counts map[string]int `json:"counts"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// Store handles loading and saving History to disk.
type Store struct {
	dir string // directory containing history.json
}

// NewStore creates a Store that reads/writes history in the given directory.
// The directory is created (with parents) on the first Save if it does not
// exist. Pass an empty string to use the default XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultHistoryDir()
	}
	return &Store{dir: dir}
}

// Path returns the full path to the history file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, historyFileName)
}

// Load reads history from disk. A missing file yields an empty History.
func (s *Store) Load() (*History, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return newHistory(), nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	if h.Counts == nil {
		h.Counts = make(map[string]int)
	}
	return &h, nil
}

// Save writes history to disk using an atomic temp-file-then-rename pattern.
func (s *Store) Save(h *History) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	h.Version = historyVersion

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming history file: %w", err)
	}
	committed = true

	return nil
}

func newHistory() *History {
	return &History{
		Version: historyVersion,
		Counts:  make(map[string]int),
	}
}

func (h *History) clone() *History {
	cp := *h
	cp.Transitions = append([]Transition(nil), h.Transitions...)
	cp.Counts = make(map[string]int, len(h.Counts))
	for k, v := range h.Counts {
		cp.Counts[k] = v
	}
	return &cp
}

func defaultHistoryDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
