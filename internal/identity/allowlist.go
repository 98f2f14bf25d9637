package identity

import (
	"fmt"
	"strings"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

// Allowlist is the set of administrator emails. It is built from configuration
// at startup and never changes afterwards.
type Allowlist struct {
	emails map[string]struct{}
}

// NewAllowlist normalizes emails (trimmed, lowercased) into an allowlist.
func NewAllowlist(emails []string) *Allowlist {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			set[e] = struct{}{}
		}
	}
	return &Allowlist{emails: set}
}

// Len returns the number of administrators.
func (a *Allowlist) Len() int {
	return len(a.emails)
}

// IsAdmin reports whether id is an authenticated administrator.
func (a *Allowlist) IsAdmin(id Identity) bool {
	auth, ok := id.(Authenticated)
	if !ok || auth.Email == "" {
		return false
	}
	_, found := a.emails[strings.ToLower(auth.Email)]
	return found
}

// RequireAdmin fails with ErrUnauthenticated when the caller has no verified
// identity and ErrNotAuthorized when the caller is not on the allowlist.
func (a *Allowlist) RequireAdmin(id Identity) error {
	auth, ok := id.(Authenticated)
	if !ok {
		return fmt.Errorf("%w: administrator sign-in required", experiment.ErrUnauthenticated)
	}
	if !a.IsAdmin(auth) {
		return fmt.Errorf("%w: %s is not an administrator", experiment.ErrNotAuthorized, auth.Email)
	}
	return nil
}
