package conflict

// Outcome classifies whether moving an account would collide with an
// existing account on the destination. The string values are stable; they
// appear in results and in the migration journal.
type Outcome string

const (
	NoConflict       Outcome = "no_conflict"
	OverwriteAllowed Outcome = "overwrite_allowed"
	UsernameConflict Outcome = "username_conflict"
	DomainConflict   Outcome = "domain_conflict"
	ConnectionError  Outcome = "connection_error"
)

// Blocks reports whether the outcome forbids the transfer outright.
// OverwriteAllowed does not block by itself but still requires the
// requester's overwrite consent.
func (o Outcome) Blocks() bool {
	switch o {
	case UsernameConflict, DomainConflict, ConnectionError:
		return true
	}
	return false
}

func (o Outcome) String() string {
	return string(o)
}
