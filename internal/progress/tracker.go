package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current migration status
type Status struct {
	Username      string    // account being migrated
	Domain        string    // its primary domain
	Stage         string    // current pipeline stage
	StageStarted  time.Time // when the current stage began
	StartTime     time.Time // when the migration began
	LastUpdate    time.Time // last time anything changed
	LastLine      string    // most recent output or progress line
	Lines         int       // total lines seen
	ArtifactBytes int64     // size of the downloaded backup artifact
}

// Tracker tracks the progress of a single migration
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a new progress tracker
func NewTracker(username, domain string) *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			Username:     username,
			Domain:       domain,
			Stage:        "idle",
			StageStarted: now,
			StartTime:    now,
			LastUpdate:   now,
		},
	}
}

// SetStage records a stage transition
func (t *Tracker) SetStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.status.Stage = stage
	t.status.StageStarted = now
	t.status.LastUpdate = now
}

// Note records an output or progress line
func (t *Tracker) Note(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.LastLine = line
	t.status.Lines++
	t.status.LastUpdate = time.Now()
}

// SetArtifactBytes records the size of the downloaded artifact
func (t *Tracker) SetArtifactBytes(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ArtifactBytes = bytes
	t.status.LastUpdate = time.Now()
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// Elapsed returns how long the migration has been running
func (t *Tracker) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return time.Since(t.status.StartTime)
}

// StageElapsed returns how long the current stage has been running
func (t *Tracker) StageElapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return time.Since(t.status.StageStarted)
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	} else if bytes < 1024*1024*1024 {
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	} else {
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	}
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}
