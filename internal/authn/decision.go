package authn

import (
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/session"
	"github.com/k1s0-platform/system-server-go-ticketgate/internal/user"
)

// Route paths used in routing decisions.
const (
	LoginPath          = "/"
	StaffDashboardPath = "/dashboard/staff"
	UserDashboardPath  = "/dashboard/user"
)

// Outcome is what the request gate must do with a request.
type Outcome int

const (
	// Continue passes the request downstream.
	Continue Outcome = iota
	// Redirect sends the client to Decision.Path.
	Redirect
	// ClearAndRedirect drops the session cookie and sends the client to Decision.Path.
	ClearAndRedirect
	// Propagate fails the request with Decision.Err.
	Propagate
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Redirect:
		return "redirect"
	case ClearAndRedirect:
		return "clear_and_redirect"
	case Propagate:
		return "propagate"
	default:
		return "unknown"
	}
}

// State is where a credential resolution ended up.
type State int

const (
	// StateAbsent means no credential was presented.
	StateAbsent State = iota
	// StateMalformed means the credential could not be parsed.
	StateMalformed
	// StateUnresolvable means no session matches the credential, or its provider tokens could not be refreshed.
	StateUnresolvable
	// StateExpired means the session outlived its lifetime and was deleted.
	StateExpired
	// StateAuthenticated means the credential resolved to a principal.
	StateAuthenticated
	// StateFailed means the credential store or a dependency failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateMalformed:
		return "malformed"
	case StateUnresolvable:
		return "unresolvable"
	case StateExpired:
		return "expired"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Principal is the identity resolved for one request. It is a transient copy;
// the credential store owns the records.
type Principal struct {
	User    user.User
	Session session.Session
}

// Permissions returns the resolved permission bitmask.
func (p *Principal) Permissions() user.Permission {
	return p.User.Permissions
}

// Decision is the result of a resolution.
type Decision struct {
	Outcome Outcome
	State   State
	Path    string
	Err     error

	// Principal is set when State is StateAuthenticated.
	Principal *Principal

	// Credential, when non-empty, is the encoded credential the gate must
	// write to the client before the response is produced.
	Credential string
}

// DashboardPath selects the dashboard for a permission bitmask.
func DashboardPath(perms user.Permission) string {
	if perms.Has(user.PermModerator) {
		return StaffDashboardPath
	}
	return UserDashboardPath
}
