package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure by the operation that produced it.
type Kind string

const (
	KindTrigger  Kind = "trigger_failed"
	KindTimeout  Kind = "backup_timeout"
	KindDownload Kind = "download_error"
	KindUpload   Kind = "upload_error"
	KindRestore  Kind = "restore_error"
)

// Error is the terminal failure of a pipeline run. It records which stage
// the run died in alongside the underlying cause.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the failure kind from a pipeline error, or "" when the
// error did not come from the pipeline.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
