package pipeline

// Stage identifies where a transfer currently is. The machine is linear:
// Idle -> Triggering -> Polling -> Downloading -> Uploading -> Restoring,
// ending in Completed or Failed. There are no back-edges.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageTriggering  Stage = "triggering"
	StagePolling     Stage = "polling"
	StageDownloading Stage = "downloading"
	StageUploading   Stage = "uploading"
	StageRestoring   Stage = "restoring"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

func (s Stage) String() string {
	return string(s)
}

// Terminal reports whether the stage ends the run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}
