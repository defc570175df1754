package journal

import (
	"time"
)

// Entry is one finished migration attempt, conflict-blocked or not.
type Entry struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Domain          string    `json:"domain"`
	SourceHost      string    `json:"source_host"`
	DestinationHost string    `json:"destination_host"`
	Outcome         string    `json:"outcome"`
	Stage           string    `json:"stage"`
	Success         bool      `json:"success"`
	Detail          string    `json:"detail,omitempty"`
	Transcript      string    `json:"transcript,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationMs      int64     `json:"duration_ms"`
}

// Store defines the interface for migration history persistence
type Store interface {
	// Record saves an entry, replacing any previous entry with the same ID.
	Record(entry *Entry) error
	// Get returns the entry with the given ID, or nil when absent.
	Get(id string) (*Entry, error)
	// History returns the most recent entries, newest first.
	History(limit int) ([]*Entry, error)

	// Cleanup
	Close() error
}
