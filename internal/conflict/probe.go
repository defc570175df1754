package conflict

import (
	"context"
	"fmt"
	"strings"

	"cpmigrate/internal/remote"
)

// registryPath is where cPanel keeps one file per account; grep hits in
// there mean some account already claims the domain.
const registryPath = "/var/cpanel/users"

// Runner executes commands on the destination host.
type Runner interface {
	Run(ctx context.Context, command string) (remote.Output, error)
}

// ProbeResult carries what the destination's account registry reported.
// An empty DomainRecord means no account references the domain.
type ProbeResult struct {
	UsernameFound bool
	DomainRecord  string
	Err           error
}

// Probe performs the two read-only registry lookups on the destination: an
// ownership lookup for the username and a text search for the domain. Empty
// stdout means "not found"; grep exiting 1 on no match is therefore not an
// error. Neither command mutates remote state.
func Probe(ctx context.Context, runner Runner, username, domain string) ProbeResult {
	owner, err := runner.Run(ctx, fmt.Sprintf("/scripts/whoowns %s", username))
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("username lookup: %w", err)}
	}

	record, err := runner.Run(ctx, fmt.Sprintf("grep -R '%s' %s", domain, registryPath))
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("domain lookup: %w", err)}
	}

	return ProbeResult{
		UsernameFound: strings.TrimSpace(owner.Stdout) != "",
		DomainRecord:  strings.TrimSpace(record.Stdout),
	}
}
