package conflict

import (
	"context"
	"errors"
	"testing"

	"cpmigrate/internal/remote"
)

var errFake = errors.New("connection refused")

type fakeRunner struct {
	commands []string
	outputs  map[string]remote.Output
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, command string) (remote.Output, error) {
	f.commands = append(f.commands, command)
	if f.err != nil {
		return remote.Output{}, f.err
	}
	return f.outputs[command], nil
}

func TestProbeIssuesExactLookups(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]remote.Output{}}

	Probe(context.Background(), runner, "user1", "example.com")

	if len(runner.commands) != 2 {
		t.Fatalf("Expected 2 commands, got %d: %v", len(runner.commands), runner.commands)
	}
	if runner.commands[0] != "/scripts/whoowns user1" {
		t.Errorf("Expected ownership lookup, got %q", runner.commands[0])
	}
	if runner.commands[1] != "grep -R 'example.com' /var/cpanel/users" {
		t.Errorf("Expected registry search, got %q", runner.commands[1])
	}
}

func TestProbeParsesLookupOutput(t *testing.T) {
	outputs := map[string]remote.Output{}
	outputs["/scripts/whoowns user1"] = remote.Output{Stdout: "user1\n"}
	outputs["grep -R 'example.com' /var/cpanel/users"] = remote.Output{Stdout: "/var/cpanel/users/user1:DNS=example.com\n"}
	runner := &fakeRunner{outputs: outputs}

	got := Probe(context.Background(), runner, "user1", "example.com")
	if got.Err != nil {
		t.Fatalf("Expected no error, got %v", got.Err)
	}
	if !got.UsernameFound {
		t.Error("Expected username to be found")
	}
	if got.DomainRecord != "/var/cpanel/users/user1:DNS=example.com" {
		t.Errorf("Expected trimmed domain record, got %q", got.DomainRecord)
	}
}

func TestProbeEmptyOutputMeansNotFound(t *testing.T) {
	outputs := map[string]remote.Output{}
	outputs["/scripts/whoowns user1"] = remote.Output{Stdout: "  \n"}
	outputs["grep -R 'example.com' /var/cpanel/users"] = remote.Output{Stdout: "", ExitCode: 1}
	runner := &fakeRunner{outputs: outputs}

	got := Probe(context.Background(), runner, "user1", "example.com")
	if got.Err != nil {
		t.Fatalf("Expected no error, got %v", got.Err)
	}
	if got.UsernameFound {
		t.Error("Expected username not found for blank output")
	}
	if got.DomainRecord != "" {
		t.Errorf("Expected empty domain record, got %q", got.DomainRecord)
	}
}

func TestProbeTransportErrorIsFatal(t *testing.T) {
	runner := &fakeRunner{err: errFake}

	got := Probe(context.Background(), runner, "user1", "example.com")
	if got.Err == nil {
		t.Fatal("Expected probe error, got nil")
	}
	if !errors.Is(got.Err, errFake) {
		t.Errorf("Expected wrapped transport error, got %v", got.Err)
	}
}
