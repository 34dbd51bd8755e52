package auth

import (
	"sort"
	"strings"
	"time"
)

// SessionUser is the user half of a session record as the session issuer
// stores it.
type SessionUser struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	LastLogin   time.Time `json:"lastLogin"`
}

// SessionRecord is what the session store returns for a token.
type SessionRecord struct {
	Token     string      `json:"token"`
	IsActive  bool        `json:"isActive"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      SessionUser `json:"user"`
}

// PermissionSet is a flattened, de-duplicated set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet flattens names into a set, trimming whitespace and
// dropping empties and duplicates.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// List returns the permissions sorted by name.
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Principal is the verified identity attached to a connection for its whole
// lifetime. It is never mutated after Resolve returns it.
type Principal struct {
	UserID      string
	TenantID    string
	DisplayName string
	Role        string
	Permissions PermissionSet
	LastLogin   time.Time
}

func principalFromRecord(rec *SessionRecord) Principal {
	return Principal{
		UserID:      rec.User.ID,
		TenantID:    rec.User.TenantID,
		DisplayName: rec.User.Name,
		Role:        rec.User.Role,
		Permissions: NewPermissionSet(rec.User.Permissions...),
		LastLogin:   rec.User.LastLogin,
	}
}
