package auth

import "fmt"

// Reason classifies why a handshake credential was refused.
type Reason string

const (
	ReasonMissing          Reason = "missing"
	ReasonInvalid          Reason = "invalid"
	ReasonExpiredOrRevoked Reason = "expired_or_revoked"
)

// AuthError is returned by Resolve when a token cannot be turned into a
// principal. Compare with errors.Is against ErrMissing, ErrInvalid or
// ErrExpiredOrRevoked.
type AuthError struct {
	Reason Reason
	Err    error
}

var (
	ErrMissing          = &AuthError{Reason: ReasonMissing}
	ErrInvalid          = &AuthError{Reason: ReasonInvalid}
	ErrExpiredOrRevoked = &AuthError{Reason: ReasonExpiredOrRevoked}
)

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Reason, e.Err)
	}
	return "auth " + string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError carrying the same reason.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Reason == e.Reason
}

func authErr(reason Reason, err error) error {
	return &AuthError{Reason: reason, Err: err}
}
