package progress

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Display handles the progress display
type Display struct {
	tracker  *Tracker
	interval time.Duration
	stopCh   chan struct{}
}

// NewDisplay creates a new progress display
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the progress display
func (d *Display) Stop() {
	close(d.stopCh)
}

// displayLoop runs the display update loop
func (d *Display) displayLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.updateDisplay()
		case <-d.stopCh:
			d.finalDisplay()
			return
		}
	}
}

// updateDisplay prints a one-line status update
func (d *Display) updateDisplay() {
	status := d.tracker.GetStatus()

	line := fmt.Sprintf("[%s %s] stage=%s (%s)",
		status.Username,
		status.Domain,
		status.Stage,
		FormatDuration(d.tracker.StageElapsed()))
	if status.ArtifactBytes > 0 {
		line += fmt.Sprintf(" artifact=%s", FormatBytes(status.ArtifactBytes))
	}
	if status.LastLine != "" {
		line += fmt.Sprintf(" | %s", truncateLine(status.LastLine, 80))
	}

	fmt.Println(line)
}

// finalDisplay shows the summary once the migration has ended
func (d *Display) finalDisplay() {
	status := d.tracker.GetStatus()

	lines := []string{
		"",
		fmt.Sprintf("Migration of %s (%s) finished in stage %q", status.Username, status.Domain, status.Stage),
		strings.Repeat("=", 50),
		fmt.Sprintf("  Elapsed:  %s", FormatDuration(d.tracker.Elapsed())),
		fmt.Sprintf("  Artifact: %s", FormatBytes(status.ArtifactBytes)),
		fmt.Sprintf("  Output:   %d lines", status.Lines),
		"",
	}

	fmt.Println(strings.Join(lines, "\n"))
}

func truncateLine(line string, max int) string {
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}

// IsTerminalSupported checks if the terminal supports progress display
func IsTerminalSupported() bool {
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		return false
	}
	return true
}
