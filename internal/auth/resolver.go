package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionStore looks up session records by token. A missing record is
// reported as (nil, nil); errors are reserved for store failures.
type SessionStore interface {
	LookupSession(ctx context.Context, token string) (*SessionRecord, error)
}

// MaxTokenLength bounds tokens passed to the session store when the format
// check is off.
const MaxTokenLength = 512

// Resolver turns bearer tokens into principals.
type Resolver struct {
	sessions    SessionStore
	checkFormat bool
	now         func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTokenFormatCheck turns the base58 checksum check on or off. It is on by
// default; turn it off when the session issuer mints tokens in another
// format.
func WithTokenFormatCheck(enabled bool) ResolverOption {
	return func(r *Resolver) { r.checkFormat = enabled }
}

// NewResolver creates a Resolver backed by the given session store.
func NewResolver(sessions SessionStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{sessions: sessions, checkFormat: true, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve verifies token and returns the principal it names. Auth failures
// are *AuthError; any other error means the session store is unavailable.
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, authErr(ReasonMissing, nil)
	}
	if r.checkFormat {
		if err := ValidateToken(token); err != nil {
			return Principal{}, authErr(ReasonInvalid, err)
		}
	} else if len(token) > MaxTokenLength {
		return Principal{}, authErr(ReasonInvalid, fmt.Errorf("token longer than %d bytes", MaxTokenLength))
	}

	rec, err := r.sessions.LookupSession(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("lookup session: %w", err)
	}
	if rec == nil {
		return Principal{}, authErr(ReasonExpiredOrRevoked, errors.New("no session for token"))
	}
	if !rec.IsActive {
		return Principal{}, authErr(ReasonExpiredOrRevoked, errors.New("session is inactive"))
	}
	if !rec.ExpiresAt.After(r.now()) {
		return Principal{}, authErr(ReasonExpiredOrRevoked, fmt.Errorf("session expired at %s", rec.ExpiresAt.Format(time.RFC3339)))
	}
	if rec.User.ID == "" || rec.User.TenantID == "" {
		return Principal{}, authErr(ReasonInvalid, errors.New("session record has no user or tenant"))
	}

	return principalFromRecord(rec), nil
}
