package backupapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// Download streams the backup artifact into the local root. The local file
// keeps the exact basename of the download reference: the restore side may
// depend on metadata embedded in that name, so it is never renamed. The
// caller owns the returned path and removes it when done with it.
func (c *Client) Download(ctx context.Context, downloadURL string) (string, int64, error) {
	name := artifactName(downloadURL)
	if name == "" || name == "." || name == "/" {
		return "", 0, fmt.Errorf("download reference %q has no usable filename", downloadURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("download request: %w", err)
	}
	req.SetBasicAuth(c.opts.Username, c.opts.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("GET %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("GET %s: HTTP %d", downloadURL, resp.StatusCode)
	}

	localPath := filepath.Join(c.opts.LocalRoot, name)
	out, err := os.Create(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", localPath, err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(localPath)
		return "", 0, fmt.Errorf("write %s: %w", localPath, err)
	}

	c.log.Info("Backup artifact downloaded",
		zap.String("path", localPath),
		zap.Int64("size_bytes", written),
	)
	return localPath, written, nil
}

// artifactName extracts the filename from a download reference.
func artifactName(downloadURL string) string {
	if u, err := url.Parse(downloadURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(downloadURL)
}
