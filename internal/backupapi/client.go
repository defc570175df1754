package backupapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Job states reported by the source's job-control endpoint.
const (
	JobPending = "pending"
	JobReady   = "ready"
	JobFailed  = "failed"
)

// ErrNotReady is returned by AwaitDownload when the backup never published
// a download reference inside the poll ceiling.
var ErrNotReady = errors.New("backup did not become ready before the poll ceiling")

// JobHandle is the mutable view of an in-flight backup job. The polling
// loop owns it, stamps Elapsed on every poll, and discards it at a
// terminal state.
type JobHandle struct {
	Status      string
	DownloadURL string
	Elapsed     time.Duration
}

// Options configures a job-control client. Zero values fall back to the
// usual cPanel-style defaults.
type Options struct {
	Host           string
	Port           int
	Path           string
	Username       string
	Password       string
	PollInterval   time.Duration
	PollCeiling    time.Duration
	RequestTimeout time.Duration
	LocalRoot      string
}

// Client talks to the source host's backup job-control API over HTTPS with
// basic credentials. Certificate validation is relaxed: these are
// operator-controlled hosts where self-signed certificates are expected.
type Client struct {
	opts Options
	http *http.Client
	log  *zap.Logger
}

// New creates a job-control client.
func New(opts Options, log *zap.Logger) *Client {
	if opts.Port == 0 {
		opts.Port = 2083
	}
	if opts.Path == "" {
		opts.Path = "/backup"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.PollCeiling == 0 {
		opts.PollCeiling = 600 * time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.LocalRoot == "" {
		opts.LocalRoot = os.TempDir()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		opts: opts,
		http: &http.Client{Transport: transport},
		log:  log,
	}
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("https://%s:%d%s", c.opts.Host, c.opts.Port, c.opts.Path)
}

// jobResponse is the JSON envelope the endpoint returns. A ready job nests
// its download reference under data.download_url.
type jobResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		DownloadURL string `json:"download_url"`
	} `json:"data"`
}

// Trigger starts a backup job with a single call. A non-success response is
// fatal and is not retried.
func (c *Client) Trigger(ctx context.Context) error {
	resp, err := c.get(ctx, c.endpoint())
	if err != nil {
		return fmt.Errorf("trigger backup: %w", err)
	}

	c.log.Info("Backup job triggered", zap.String("status", resp.Status))
	return nil
}

// PollOnce asks the endpoint for the job's current state. Unknown states
// count as still pending.
func (c *Client) PollOnce(ctx context.Context) (*JobHandle, error) {
	resp, err := c.get(ctx, c.endpoint())
	if err != nil {
		return nil, err
	}

	status := resp.Status
	switch status {
	case JobPending, JobReady, JobFailed:
	default:
		status = JobPending
	}

	return &JobHandle{Status: status, DownloadURL: resp.Data.DownloadURL}, nil
}

// AwaitDownload polls until the job publishes a download reference. Polls
// repeat on a fixed interval up to an overall ceiling; a poll that itself
// errors is logged and treated as not ready. The ceiling is never extended.
func (c *Client) AwaitDownload(ctx context.Context) (string, error) {
	started := time.Now()

	deadline := time.NewTimer(c.opts.PollCeiling)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		handle, err := c.PollOnce(ctx)
		if handle != nil {
			handle.Elapsed = time.Since(started)
		}
		switch {
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			c.log.Warn("Backup status check failed, treating as not ready", zap.Error(err))
		case handle.Status == JobFailed:
			return "", errors.New("backup job reported failure")
		case handle.Status == JobReady && handle.DownloadURL != "":
			c.log.Info("Backup ready",
				zap.Duration("elapsed", handle.Elapsed),
				zap.String("download_url", handle.DownloadURL),
			)
			return handle.DownloadURL, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrNotReady
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, url string) (*jobResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.opts.Username, c.opts.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: HTTP %d: %s", url, resp.StatusCode, truncate(string(body), 200))
	}

	var jr jobResponse
	if err := json.Unmarshal(body, &jr); err != nil {
		return nil, fmt.Errorf("GET %s: decoding response: %w", url, err)
	}

	return &jr, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
