package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"cpmigrate/internal/remote"

	"go.uber.org/zap"
)

// BackupService drives the backup job on the source server.
type BackupService interface {
	Trigger(ctx context.Context) error
	AwaitDownload(ctx context.Context) (string, error)
	Download(ctx context.Context, downloadURL string) (localPath string, size int64, err error)
}

// Host is the destination server: it receives the artifact and runs the
// restore there.
type Host interface {
	Run(ctx context.Context, command string) (remote.Output, error)
	PushFile(ctx context.Context, localPath, remotePath string) error
	RunStreaming(ctx context.Context, command string, onLine func(string)) (int, error)
}

// Tracker receives stage and output updates as the run progresses.
type Tracker interface {
	SetStage(stage string)
	Note(line string)
	SetArtifactBytes(n int64)
}

// Metrics records stage timings and transferred bytes.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	AddArtifactBytes(n int64)
}

// Archiver keeps an off-host copy of the downloaded artifact.
type Archiver interface {
	Store(ctx context.Context, localPath string) error
}

// Settings are the fixed parameters of a transfer.
type Settings struct {
	RemoteRoot     string // directory on the destination the artifact lands in
	RestoreCommand string // restore tool invoked against the uploaded path
}

// artifact is the backup archive as it moves through a run: written locally
// by the download stage, consumed by the upload stage, removed locally when
// the run ends. Both paths keep the filename the source produced.
type artifact struct {
	localPath  string
	remotePath string
	size       int64
}

// Pipeline executes one account transfer: trigger a backup on the source,
// wait for it, download the artifact, upload it to the destination and
// restore it there. A Pipeline runs once; build a new one per migration.
type Pipeline struct {
	backups  BackupService
	dest     Host
	settings Settings
	tracker  Tracker
	metrics  Metrics
	archive  Archiver
	log      *zap.Logger

	transcript Transcript

	mu    sync.Mutex
	stage Stage
}

// New builds a pipeline. tracker, metrics and archive may be nil.
func New(
	backups BackupService,
	dest Host,
	settings Settings,
	tracker Tracker,
	metrics Metrics,
	archive Archiver,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		backups:  backups,
		dest:     dest,
		settings: settings,
		tracker:  tracker,
		metrics:  metrics,
		archive:  archive,
		log:      log,
		stage:    StageIdle,
	}
}

// Stage returns the current stage.
func (p *Pipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Transcript exposes the run's transcript for tailing and for the final
// result. Valid during and after Run.
func (p *Pipeline) Transcript() *Transcript {
	return &p.transcript
}

// Run executes the transfer. A nil return means the restore finished with
// exit status zero. On failure the returned error is a *Error carrying the
// failure kind and the stage it happened in; the transcript keeps whatever
// was collected up to that point. The local artifact is removed on success
// and failure alike.
func (p *Pipeline) Run(ctx context.Context) error {
	err := p.run(ctx)
	if err != nil {
		p.setStage(StageFailed)
		p.say(fmt.Sprintf("Migration failed: %v", err))
		return err
	}
	p.setStage(StageCompleted)
	p.say("Migration completed")
	return nil
}

func (p *Pipeline) run(ctx context.Context) error {
	p.setStage(StageTriggering)
	p.say("Requesting account backup on the source server")
	start := time.Now()
	if err := p.backups.Trigger(ctx); err != nil {
		return fail(KindTrigger, StageTriggering, err)
	}
	p.observe(StageTriggering, time.Since(start))

	p.setStage(StagePolling)
	p.say("Waiting for the backup to become ready")
	start = time.Now()
	downloadURL, err := p.backups.AwaitDownload(ctx)
	if err != nil {
		return fail(KindTimeout, StagePolling, err)
	}
	p.observe(StagePolling, time.Since(start))

	p.setStage(StageDownloading)
	p.say("Downloading the backup artifact")
	start = time.Now()
	localPath, size, err := p.backups.Download(ctx, downloadURL)
	if err != nil {
		return fail(KindDownload, StageDownloading, err)
	}
	art := artifact{
		localPath:  localPath,
		remotePath: path.Join(p.settings.RemoteRoot, filepath.Base(localPath)),
		size:       size,
	}
	// The local copy is scratch space either way the run ends.
	defer func() {
		if rmErr := os.Remove(art.localPath); rmErr != nil && !os.IsNotExist(rmErr) {
			p.log.Warn("Failed to remove local artifact", zap.String("path", art.localPath), zap.Error(rmErr))
		}
	}()
	p.observe(StageDownloading, time.Since(start))
	if p.tracker != nil {
		p.tracker.SetArtifactBytes(art.size)
	}
	if p.metrics != nil {
		p.metrics.AddArtifactBytes(art.size)
	}
	p.say(fmt.Sprintf("Downloaded %s (%d bytes)", filepath.Base(art.localPath), art.size))

	if p.archive != nil {
		if err := p.archive.Store(ctx, art.localPath); err != nil {
			p.log.Warn("Failed to archive the artifact off-host", zap.Error(err))
		}
	}

	p.setStage(StageUploading)
	p.say(fmt.Sprintf("Uploading the artifact to %s", art.remotePath))
	start = time.Now()
	if err := p.dest.PushFile(ctx, art.localPath, art.remotePath); err != nil {
		return fail(KindUpload, StageUploading, err)
	}
	p.observe(StageUploading, time.Since(start))

	p.setStage(StageRestoring)
	p.say("Restoring the account on the destination server")
	start = time.Now()
	command := fmt.Sprintf("%s %s", p.settings.RestoreCommand, art.remotePath)
	exitCode, err := p.dest.RunStreaming(ctx, command, func(line string) {
		p.transcript.Append(line)
		if p.tracker != nil {
			p.tracker.Note(line)
		}
	})
	if err != nil {
		return fail(KindRestore, StageRestoring, err)
	}
	if exitCode != 0 {
		return fail(KindRestore, StageRestoring, fmt.Errorf("restore exited with status %d", exitCode))
	}
	p.observe(StageRestoring, time.Since(start))

	// Remote cleanup is best effort once the restore has succeeded.
	if _, err := p.dest.Run(ctx, fmt.Sprintf("rm -f %s", art.remotePath)); err != nil {
		p.log.Warn("Failed to remove remote artifact", zap.String("path", art.remotePath), zap.Error(err))
	}

	return nil
}

func (p *Pipeline) setStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
	if p.tracker != nil {
		p.tracker.SetStage(string(s))
	}
	p.log.Debug("Stage changed", zap.String("stage", string(s)))
}

// say records a progress line in the transcript and mirrors it to the
// tracker and log.
func (p *Pipeline) say(line string) {
	p.transcript.Append(line)
	if p.tracker != nil {
		p.tracker.Note(line)
	}
	p.log.Info(line)
}

func (p *Pipeline) observe(s Stage, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveStage(string(s), d)
	}
}
