package app

import (
	"fmt"
	"strings"
)

// Request describes one account migration. All fields except Overwrite are
// required; a request is never mutated once accepted.
type Request struct {
	SourceHost     string `json:"source_host"`
	SourceUser     string `json:"source_user"`
	SourcePassword string `json:"source_pass"`

	DestinationHost         string `json:"destination_host"`
	DestinationRootUser     string `json:"destination_root_user"`
	DestinationRootPassword string `json:"destination_root_pass"`

	Username  string `json:"username"`
	Domain    string `json:"domain"`
	Overwrite bool   `json:"overwrite"`
}

// Validate reports every missing required field at once, so the operator
// fixes the request in one round trip.
func (r *Request) Validate() error {
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("source_host", r.SourceHost)
	require("source_user", r.SourceUser)
	require("source_pass", r.SourcePassword)
	require("destination_host", r.DestinationHost)
	require("destination_root_user", r.DestinationRootUser)
	require("destination_root_pass", r.DestinationRootPassword)
	require("username", r.Username)
	require("domain", r.Domain)

	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// lockKey identifies the destination account slot this request targets.
// Racing migrations of the same slot must not interleave.
func (r *Request) lockKey() string {
	return fmt.Sprintf("%s|%s|%s", r.DestinationHost, r.Username, r.Domain)
}
