package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cpmigrate/internal/archive"
	"cpmigrate/internal/backupapi"
	"cpmigrate/internal/config"
	"cpmigrate/internal/conflict"
	"cpmigrate/internal/journal"
	"cpmigrate/internal/metrics"
	"cpmigrate/internal/pipeline"
	"cpmigrate/internal/progress"
	"cpmigrate/internal/remote"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcomes beyond the conflict check results.
const (
	OutcomeCompleted       = "completed"
	OutcomeValidationError = "validation_error"
)

// Operator-facing explanations for each blocked outcome.
const (
	msgConnectionError = "Unable to connect to the destination server. Verify credentials and network connectivity."
	msgUsernameTaken   = "The domain exists with a different username on the destination. Please update the username on the destination first."
	msgDomainTaken     = "The domain already exists on the destination server. Remove the existing account first."
	msgNeedsOverwrite  = "An account with this domain and username already exists. Check the overwrite option to proceed."
	msgTransferOK      = "Transfer completed successfully!"
	msgTransferFailed  = "Transfer failed. Please review logs and try again."
)

// Result is the single structured answer to a migration request.
type Result struct {
	ID         string        `json:"id"`
	Success    bool          `json:"success"`
	Outcome    string        `json:"outcome"`
	Detail     string        `json:"detail"`
	Stage      string        `json:"stage"`
	Transcript []string      `json:"transcript,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// destination is the destination server as the orchestrator needs it: the
// conflict probe and the pipeline both run over the same session.
type destination interface {
	pipeline.Host
	Close() error
}

// Migrator runs the conflict check and, when it allows, the transfer
// pipeline. It is safe for concurrent use; racing requests for the same
// destination account are serialized.
type Migrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	journal journal.Store
	metrics *metrics.Collector
	archive *archive.MinIOArchiver
	locks   *keyedMutex

	// ShowProgress enables the periodic console status line.
	ShowProgress bool

	dialDest   func(ctx context.Context, req *Request) (destination, error)
	newBackups func(req *Request) pipeline.BackupService
}

// New creates a new migrator instance
func New(cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	journalStore, err := journal.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	m := &Migrator{
		cfg:     cfg,
		logger:  logger,
		journal: journalStore,
		metrics: metrics.New(),
		locks:   newKeyedMutex(),
	}
	m.dialDest = m.defaultDial
	m.newBackups = m.defaultBackups

	if cfg.Archive.Enabled {
		archiver, err := archive.NewMinIOArchiver(context.Background(), archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Secure:    cfg.Archive.Secure,
		}, logger)
		if err != nil {
			journalStore.Close()
			return nil, fmt.Errorf("failed to connect to artifact archive: %w", err)
		}
		m.archive = archiver
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := m.metrics.StartServer(cfg.Metrics.Addr); err != nil {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	return m, nil
}

func (m *Migrator) defaultDial(ctx context.Context, req *Request) (destination, error) {
	return remote.Dial(ctx,
		req.DestinationHost,
		req.DestinationRootUser,
		req.DestinationRootPassword,
		m.cfg.Transfer.ConnectTimeout(),
		m.logger)
}

func (m *Migrator) defaultBackups(req *Request) pipeline.BackupService {
	return backupapi.New(backupapi.Options{
		Host:           req.SourceHost,
		Port:           m.cfg.Source.APIPort,
		Path:           m.cfg.Source.APIPath,
		Username:       req.SourceUser,
		Password:       req.SourcePassword,
		PollInterval:   m.cfg.Transfer.PollInterval(),
		PollCeiling:    m.cfg.Transfer.PollCeiling(),
		RequestTimeout: m.cfg.Transfer.RequestTimeout(),
		LocalRoot:      m.cfg.Transfer.LocalRoot,
	}, m.logger)
}

// Migrate executes one migration request end to end and always returns a
// Result. Nothing on the source or destination is mutated unless the
// conflict check passes.
func (m *Migrator) Migrate(ctx context.Context, req *Request) *Result {
	result := &Result{
		ID:        uuid.New().String(),
		Stage:     string(pipeline.StageIdle),
		StartedAt: time.Now(),
	}

	m.metrics.MigrationStarted()

	if err := req.Validate(); err != nil {
		m.logger.Warn("Rejected invalid migration request", zap.Error(err))
		result.Outcome = OutcomeValidationError
		result.Detail = err.Error()
		return m.finish(req, result)
	}

	// One migration per destination account slot at a time. The lock spans
	// the conflict check and the whole pipeline, so a racing request sees
	// the destination as the first one left it.
	release := m.locks.Acquire(req.lockKey())
	defer release()

	m.logger.Info("Starting migration",
		zap.String("id", result.ID),
		zap.String("username", req.Username),
		zap.String("domain", req.Domain),
		zap.String("source", req.SourceHost),
		zap.String("destination", req.DestinationHost),
	)

	dest, err := m.dialDest(ctx, req)
	if err != nil {
		m.logger.Warn("Unable to connect to the destination server", zap.Error(err))
		result.Outcome = string(conflict.ConnectionError)
		result.Detail = msgConnectionError
		return m.finish(req, result)
	}
	defer dest.Close()

	probe := conflict.Probe(ctx, dest, req.Username, req.Domain)
	outcome := conflict.Resolve(probe, req.Username, m.logger)

	if blocked, detail := gate(outcome, req.Overwrite); blocked {
		result.Outcome = string(outcome)
		result.Detail = detail
		return m.finish(req, result)
	}

	tracker := progress.NewTracker(req.Username, req.Domain)
	if m.ShowProgress {
		display := progress.NewDisplay(tracker, 2*time.Second)
		display.Start()
		defer display.Stop()
	}

	var archiver pipeline.Archiver
	if m.archive != nil {
		archiver = m.archive
	}

	pipe := pipeline.New(
		m.newBackups(req),
		dest,
		pipeline.Settings{
			RemoteRoot:     m.cfg.Transfer.RemoteRoot,
			RestoreCommand: m.cfg.Transfer.RestoreCommand,
		},
		tracker,
		m.metrics,
		archiver,
		m.logger,
	)

	err = pipe.Run(ctx)
	result.Stage = string(pipe.Stage())
	result.Transcript = pipe.Transcript().Lines()
	if err != nil {
		result.Outcome = string(pipeline.KindOf(err))
		result.Detail = msgTransferFailed
		return m.finish(req, result)
	}

	result.Success = true
	result.Outcome = OutcomeCompleted
	result.Detail = msgTransferOK
	return m.finish(req, result)
}

// gate decides whether a conflict outcome stops the migration, and with
// which explanation.
func gate(outcome conflict.Outcome, overwrite bool) (bool, string) {
	switch outcome {
	case conflict.ConnectionError:
		return true, msgConnectionError
	case conflict.UsernameConflict:
		return true, msgUsernameTaken
	case conflict.DomainConflict:
		return true, msgDomainTaken
	case conflict.OverwriteAllowed:
		if !overwrite {
			return true, msgNeedsOverwrite
		}
	}
	return false, ""
}

// finish stamps the duration, records the attempt in the journal and
// metrics, and returns the result.
func (m *Migrator) finish(req *Request, result *Result) *Result {
	result.Duration = time.Since(result.StartedAt)
	m.metrics.MigrationFinished(result.Outcome)

	entry := &journal.Entry{
		ID:              result.ID,
		Username:        req.Username,
		Domain:          req.Domain,
		SourceHost:      req.SourceHost,
		DestinationHost: req.DestinationHost,
		Outcome:         result.Outcome,
		Stage:           result.Stage,
		Success:         result.Success,
		Detail:          result.Detail,
		Transcript:      strings.Join(result.Transcript, "\n"),
		StartedAt:       result.StartedAt,
		FinishedAt:      result.StartedAt.Add(result.Duration),
		DurationMs:      result.Duration.Milliseconds(),
	}
	if err := m.journal.Record(entry); err != nil {
		m.logger.Error("Failed to record migration in the journal", zap.Error(err))
	}

	m.logger.Info("Migration finished",
		zap.String("id", result.ID),
		zap.String("outcome", result.Outcome),
		zap.Bool("success", result.Success),
		zap.String("stage", result.Stage),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// Close cleans up resources
func (m *Migrator) Close() error {
	m.metrics.Stop()
	if m.journal != nil {
		m.journal.Close()
	}
	return nil
}
