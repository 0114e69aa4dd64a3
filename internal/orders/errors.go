package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the order id does not exist in the record store.
	ErrNotFound = errors.New("order not found")

	// ErrConflict means a concurrent transition already moved the order past
	// the expected status; the caller must re-fetch and decide.
	ErrConflict = errors.New("order status changed concurrently")
)

// InvalidTransitionError rejects a transition that is not a legal edge from
// the current status for the actor's role. It names the current status and
// the statuses still reachable so the caller can present a useful rejection.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Role    Role
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s for role %s: %s is terminal", e.From, e.To, e.Role, e.From)
	}
	next := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		next = append(next, string(s))
	}
	return fmt.Sprintf("invalid transition %s -> %s for role %s: allowed next: %s",
		e.From, e.To, e.Role, strings.Join(next, ", "))
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
