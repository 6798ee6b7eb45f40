// Package access decides whether a user may touch an event.
//
// Cross-owner access is reported as a typed Forbidden decision, never a
// panic or an error used for control flow; callers map it to their own
// boundary (the HTTP layer returns 403).
package access

import (
	"strings"

	"remindd/internal/store"
)

type Decision int

const (
	Allowed Decision = iota
	Forbidden
)

func (d Decision) String() string {
	if d == Forbidden {
		return "forbidden"
	}
	return "allowed"
}

// Checker knows the configured admin identities.
type Checker struct {
	admins map[string]struct{}
}

func NewChecker(adminEmails []string) *Checker {
	m := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			m[e] = struct{}{}
		}
	}
	return &Checker{admins: m}
}

func (c *Checker) IsAdmin(u *store.User) bool {
	if u == nil {
		return false
	}
	_, ok := c.admins[strings.ToLower(u.Email)]
	return ok
}

// CanAccessEvent allows the owning user and admins.
func (c *Checker) CanAccessEvent(u *store.User, ev *store.Event) Decision {
	if u == nil || ev == nil {
		return Forbidden
	}
	if u.ID == ev.UserID || c.IsAdmin(u) {
		return Allowed
	}
	return Forbidden
}
