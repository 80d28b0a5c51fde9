package authkit

import "errors"

// Error taxonomy for the administrative surface. Operations with a natural
// boolean or optional result (verify, revoke-already-revoked, authorize)
// report "not found" / "not permitted" as false rather than an error.
var (
	// ErrUnauthorized means the caller made a request it was never entitled
	// to make, e.g. revoking a credential it does not own.
	ErrUnauthorized = errors.New("authkit: unauthorized")

	// ErrInvalid marks malformed input rejected before any mutation:
	// bad descriptions, cyclic role parents, unparseable predicates.
	ErrInvalid = errors.New("authkit: invalid")

	// ErrConflict marks a duplicate unique name (group, role, permission, policy).
	ErrConflict = errors.New("authkit: conflict")

	// ErrNotFound marks a missing referent on an administrative operation
	// that has no natural boolean result (assigning an absent role, granting
	// an absent permission).
	ErrNotFound = errors.New("authkit: not found")
)
