package conflict

import (
	"strings"

	"go.uber.org/zap"
)

// Resolve maps a probe result to a conflict outcome.
//
// The tie-break order matters: a username+domain co-occurrence is
// classified before the domain-only fallback. When both are present and the
// domain record names the requested username, the same account already
// lives on the destination and may be overwritten; any other owner is a
// username conflict.
func Resolve(probe ProbeResult, username string, log *zap.Logger) Outcome {
	if probe.Err != nil {
		log.Warn("Destination probe failed", zap.Error(probe.Err))
		return ConnectionError
	}

	domainFound := probe.DomainRecord != ""

	switch {
	case probe.UsernameFound && domainFound:
		if recordNamesUser(probe.DomainRecord, username) {
			return OverwriteAllowed
		}
		if strings.Contains(probe.DomainRecord, username) {
			// A plain substring test would have allowed the overwrite here.
			log.Warn("Domain record contains the username only as a substring, keeping the conflict",
				zap.String("username", username))
		}
		return UsernameConflict
	case domainFound:
		return DomainConflict
	default:
		return NoConflict
	}
}

// recordNamesUser reports whether the registry search output names the
// username as a whole token. Registry hits look like
// "/var/cpanel/users/user1:DNS=example.com", so the record is split on
// whitespace, path separators and key/value punctuation; a username that
// merely appears inside a longer word does not count.
func recordNamesUser(record, username string) bool {
	fields := strings.FieldsFunc(record, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '/', ':', '=', ',':
			return true
		}
		return false
	})

	for _, f := range fields {
		if f == username {
			return true
		}
	}
	return false
}
