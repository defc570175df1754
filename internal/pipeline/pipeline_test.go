package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cpmigrate/internal/remote"

	"go.uber.org/zap"
)

type fakeBackups struct {
	triggerErr  error
	awaitURL    string
	awaitErr    error
	downloadErr error

	dir     string
	name    string
	content []byte

	triggered  bool
	downloaded bool
}

func (f *fakeBackups) Trigger(ctx context.Context) error {
	f.triggered = true
	return f.triggerErr
}

func (f *fakeBackups) AwaitDownload(ctx context.Context) (string, error) {
	if f.awaitErr != nil {
		return "", f.awaitErr
	}
	return f.awaitURL, nil
}

func (f *fakeBackups) Download(ctx context.Context, downloadURL string) (string, int64, error) {
	if f.downloadErr != nil {
		return "", 0, f.downloadErr
	}
	f.downloaded = true
	localPath := filepath.Join(f.dir, f.name)
	if err := os.WriteFile(localPath, f.content, 0o644); err != nil {
		return "", 0, err
	}
	return localPath, int64(len(f.content)), nil
}

type fakeHost struct {
	pushErr    error
	pushedFrom string
	pushedTo   string

	restoreLines []string
	restoreExit  int
	restoreErr   error

	streamedCommand string
	commands        []string
}

func (f *fakeHost) Run(ctx context.Context, command string) (remote.Output, error) {
	f.commands = append(f.commands, command)
	return remote.Output{}, nil
}

func (f *fakeHost) PushFile(ctx context.Context, localPath, remotePath string) error {
	f.pushedFrom = localPath
	f.pushedTo = remotePath
	return f.pushErr
}

func (f *fakeHost) RunStreaming(ctx context.Context, command string, onLine func(string)) (int, error) {
	f.streamedCommand = command
	if f.restoreErr != nil {
		return -1, f.restoreErr
	}
	for _, line := range f.restoreLines {
		onLine(line)
	}
	return f.restoreExit, nil
}

type fakeTracker struct {
	stages []string
	notes  []string
	bytes  int64
}

func (f *fakeTracker) SetStage(stage string)    { f.stages = append(f.stages, stage) }
func (f *fakeTracker) Note(line string)         { f.notes = append(f.notes, line) }
func (f *fakeTracker) SetArtifactBytes(n int64) { f.bytes = n }

func testSettings() Settings {
	return Settings{
		RemoteRoot:     "/home",
		RestoreCommand: "/scripts/restorepkg",
	}
}

func TestRunHappyPath(t *testing.T) {
	backups := &fakeBackups{
		awaitURL: "https://src:2083/dl/backup-user1.tar.gz",
		dir:      t.TempDir(),
		name:     "backup-user1.tar.gz",
		content:  []byte("tarball"),
	}
	host := &fakeHost{
		restoreLines: []string{"Extracting account...", "Account restored."},
	}

	p := New(backups, host, testSettings(), nil, nil, nil, zap.NewNop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if p.Stage() != StageCompleted {
		t.Errorf("Expected stage %s, got %s", StageCompleted, p.Stage())
	}
	if host.pushedFrom != filepath.Join(backups.dir, backups.name) {
		t.Errorf("Expected upload from the downloaded artifact, got %s", host.pushedFrom)
	}
	if host.pushedTo != "/home/backup-user1.tar.gz" {
		t.Errorf("Expected upload to /home/backup-user1.tar.gz, got %s", host.pushedTo)
	}
	if host.streamedCommand != "/scripts/restorepkg /home/backup-user1.tar.gz" {
		t.Errorf("Unexpected restore command %q", host.streamedCommand)
	}

	// Local artifact is scratch space and must be gone.
	if _, err := os.Stat(filepath.Join(backups.dir, backups.name)); !os.IsNotExist(err) {
		t.Error("Expected local artifact to be removed after a successful run")
	}

	// Remote artifact is removed after a successful restore.
	if len(host.commands) != 1 || host.commands[0] != "rm -f /home/backup-user1.tar.gz" {
		t.Errorf("Expected remote cleanup command, got %v", host.commands)
	}

	text := p.Transcript().String()
	for _, want := range []string{"Extracting account...", "Account restored.", "Migration completed"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected transcript to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRunPublishesStages(t *testing.T) {
	backups := &fakeBackups{
		awaitURL: "https://src/dl/a.tar.gz",
		dir:      t.TempDir(),
		name:     "a.tar.gz",
		content:  []byte("x"),
	}
	host := &fakeHost{}
	tracker := &fakeTracker{}

	p := New(backups, host, testSettings(), tracker, nil, nil, zap.NewNop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []string{"triggering", "polling", "downloading", "uploading", "restoring", "completed"}
	if len(tracker.stages) != len(want) {
		t.Fatalf("Expected stages %v, got %v", want, tracker.stages)
	}
	for i, stage := range want {
		if tracker.stages[i] != stage {
			t.Errorf("Stage %d: Expected %s, got %s", i, stage, tracker.stages[i])
		}
	}
	if tracker.bytes != 1 {
		t.Errorf("Expected tracker to see 1 artifact byte, got %d", tracker.bytes)
	}
}

func TestRunTriggerFailureIsFatal(t *testing.T) {
	backups := &fakeBackups{triggerErr: errors.New("HTTP 500")}
	host := &fakeHost{}

	p := New(backups, host, testSettings(), nil, nil, nil, zap.NewNop())
	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if KindOf(err) != KindTrigger {
		t.Errorf("Expected kind %s, got %s", KindTrigger, KindOf(err))
	}
	if p.Stage() != StageFailed {
		t.Errorf("Expected stage %s, got %s", StageFailed, p.Stage())
	}
	if backups.downloaded {
		t.Error("Expected no download after trigger failure")
	}
}

func TestRunPollCeilingIsTimeout(t *testing.T) {
	backups := &fakeBackups{awaitErr: errors.New("backup did not become ready before the poll ceiling")}
	host := &fakeHost{}

	p := New(backups, host, testSettings(), nil, nil, nil, zap.NewNop())
	err := p.Run(context.Background())
	if KindOf(err) != KindTimeout {
		t.Fatalf("Expected kind %s, got %v", KindTimeout, err)
	}
	if host.pushedTo != "" {
		t.Error("Expected no upload after poll timeout")
	}
}

func TestRunUploadFailureStillCleansArtifact(t *testing.T) {
	backups := &fakeBackups{
		awaitURL: "https://src/dl/b.tar.gz",
		dir:      t.TempDir(),
		name:     "b.tar.gz",
		content:  []byte("tarball"),
	}
	host := &fakeHost{pushErr: errors.New("connection reset")}

	p := New(backups, host, testSettings(), nil, nil, nil, zap.NewNop())
	err := p.Run(context.Background())
	if KindOf(err) != KindUpload {
		t.Fatalf("Expected kind %s, got %v", KindUpload, err)
	}

	if _, statErr := os.Stat(filepath.Join(backups.dir, backups.name)); !os.IsNotExist(statErr) {
		t.Error("Expected local artifact to be removed after a failed run")
	}
}

func TestRunRestoreExitCodeFailsWithTranscript(t *testing.T) {
	backups := &fakeBackups{
		awaitURL: "https://src/dl/c.tar.gz",
		dir:      t.TempDir(),
		name:     "c.tar.gz",
		content:  []byte("tarball"),
	}
	host := &fakeHost{
		restoreLines: []string{"Extracting account...", "FATAL: user quota exceeded"},
		restoreExit:  1,
	}

	p := New(backups, host, testSettings(), nil, nil, nil, zap.NewNop())
	err := p.Run(context.Background())
	if KindOf(err) != KindRestore {
		t.Fatalf("Expected kind %s, got %v", KindRestore, err)
	}
	if !strings.Contains(err.Error(), "status 1") {
		t.Errorf("Expected exit status in error, got %v", err)
	}

	// Partial output stays observable on failure.
	text := p.Transcript().String()
	if !strings.Contains(text, "FATAL: user quota exceeded") {
		t.Errorf("Expected transcript to retain restore output, got:\n%s", text)
	}

	// The remote artifact is only removed after a successful restore.
	if len(host.commands) != 0 {
		t.Errorf("Expected no remote cleanup after failed restore, got %v", host.commands)
	}
}

func TestRunDownloadFailure(t *testing.T) {
	backups := &fakeBackups{
		awaitURL:    "https://src/dl/d.tar.gz",
		downloadErr: errors.New("HTTP 404"),
	}
	host := &fakeHost{}

	p := New(backups, host, testSettings(), nil, nil, nil, zap.NewNop())
	err := p.Run(context.Background())
	if KindOf(err) != KindDownload {
		t.Fatalf("Expected kind %s, got %v", KindDownload, err)
	}
}

func TestStageTerminal(t *testing.T) {
	for _, s := range []Stage{StageIdle, StageTriggering, StagePolling, StageDownloading, StageUploading, StageRestoring} {
		if s.Terminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
	for _, s := range []Stage{StageCompleted, StageFailed} {
		if !s.Terminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
}
