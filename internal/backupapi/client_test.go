package backupapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testClient points a client at an httptest TLS server.
func testClient(t *testing.T, ts *httptest.Server, opts Options) *Client {
	t.Helper()

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("failed to split test server host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}

	opts.Host = host
	opts.Port = port
	if opts.Path == "" {
		opts.Path = "/backup"
	}
	opts.Username = "root"
	opts.Password = "secret"
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.LocalRoot == "" {
		opts.LocalRoot = t.TempDir()
	}

	return New(opts, zap.NewNop())
}

func TestTriggerSendsBasicAuth(t *testing.T) {
	var sawAuth atomic.Bool
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && user == "root" && pass == "secret" {
			sawAuth.Store(true)
		}
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{})
	if err := client.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	if !sawAuth.Load() {
		t.Error("Expected basic auth credentials on the trigger request")
	}
}

func TestTriggerFailsOnErrorStatus(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backup subsystem offline", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{})
	err := client.Trigger(context.Background())
	if err == nil {
		t.Fatal("Expected trigger error, got nil")
	}
}

func TestAwaitDownloadReadyOnFirstPoll(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ready","data":{"download_url":"https://src/dl/backup-user1.tar.gz"}}`)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{
		PollInterval: time.Minute, // first check happens before any wait
		PollCeiling:  time.Hour,
	})

	got, err := client.AwaitDownload(context.Background())
	if err != nil {
		t.Fatalf("AwaitDownload returned error: %v", err)
	}
	if got != "https://src/dl/backup-user1.tar.gz" {
		t.Errorf("Expected download URL, got %q", got)
	}
}

func TestAwaitDownloadSoftRetriesFailedPolls(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			http.Error(w, "transient", http.StatusBadGateway)
		case 2:
			fmt.Fprint(w, `{"status":"pending"}`)
		default:
			fmt.Fprint(w, `{"status":"ready","data":{"download_url":"https://src/dl/backup.tar.gz"}}`)
		}
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{
		PollInterval: 5 * time.Millisecond,
		PollCeiling:  2 * time.Second,
	})

	got, err := client.AwaitDownload(context.Background())
	if err != nil {
		t.Fatalf("AwaitDownload returned error: %v", err)
	}
	if got != "https://src/dl/backup.tar.gz" {
		t.Errorf("Expected download URL after soft retries, got %q", got)
	}
	if calls.Load() < 3 {
		t.Errorf("Expected at least 3 polls, got %d", calls.Load())
	}
}

func TestAwaitDownloadCeilingIsFatal(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{
		PollInterval: 5 * time.Millisecond,
		PollCeiling:  30 * time.Millisecond,
	})

	_, err := client.AwaitDownload(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Expected ErrNotReady, got %v", err)
	}
}

func TestAwaitDownloadFailedJobIsFatal(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"failed","message":"disk full"}`)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{
		PollInterval: 5 * time.Millisecond,
		PollCeiling:  time.Second,
	})

	_, err := client.AwaitDownload(context.Background())
	if err == nil {
		t.Fatal("Expected error for failed job, got nil")
	}
	if errors.Is(err, ErrNotReady) {
		t.Error("Expected a distinct failure, not the poll ceiling")
	}
}

func TestAwaitDownloadHonorsCancellation(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{
		PollInterval: 5 * time.Millisecond,
		PollCeiling:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := client.AwaitDownload(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context deadline error, got %v", err)
	}
}

func TestDownloadPreservesFilename(t *testing.T) {
	payload := []byte("tarball bytes")
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dl/backup-user1.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	defer ts.Close()

	localRoot := t.TempDir()
	client := testClient(t, ts, Options{LocalRoot: localRoot})

	localPath, size, err := client.Download(context.Background(), ts.URL+"/dl/backup-user1.tar.gz")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}

	if filepath.Base(localPath) != "backup-user1.tar.gz" {
		t.Errorf("Expected local filename backup-user1.tar.gz, got %s", filepath.Base(localPath))
	}
	if filepath.Dir(localPath) != localRoot {
		t.Errorf("Expected artifact under %s, got %s", localRoot, localPath)
	}
	if size != int64(len(payload)) {
		t.Errorf("Expected size %d, got %d", len(payload), size)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("Expected downloaded content %q, got %q", payload, data)
	}
}

func TestDownloadFailsOnHTTPError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	client := testClient(t, ts, Options{LocalRoot: t.TempDir()})

	_, _, err := client.Download(context.Background(), ts.URL+"/dl/missing.tar.gz")
	if err == nil {
		t.Fatal("Expected download error, got nil")
	}
}

func TestArtifactName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://src:2083/dl/backup-user1.tar.gz", "backup-user1.tar.gz"},
		{"https://src/dl/backup.tar.gz?token=abc", "backup.tar.gz"},
		{"http://src/a/b/c.tgz", "c.tgz"},
	}

	for _, tc := range cases {
		if got := artifactName(tc.in); got != tc.want {
			t.Errorf("artifactName(%q): Expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
