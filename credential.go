package authkit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/authkit/utils"
)

// ============================================================================
// CREDENTIAL LIFECYCLE
// ============================================================================

// Credential value format: "ak_" + 12-char lookup prefix + "." + 43-char
// secret suffix. The prefix is the index key; the suffix carries 256 bits of
// entropy. The full value is shown to the caller exactly once.
const (
	credentialScheme    = "ak_"
	credentialDelimiter = "."
	prefixBytes         = 6  // 12 hex chars
	suffixBytes         = 32 // 43 base64url chars
	saltBytes           = 16

	maxDescriptionLen = 255
)

// Credential is the metadata record for an issued key. It never carries hash
// material; the salted hash lives in a separate CredentialSecret record.
type Credential struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Description string    `json:"description"`
	Prefix      string    `json:"prefix"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`    // zero = never expires
	LastUsedAt  time.Time `json:"last_used_at"`  // zero = never used
	Revoked     bool      `json:"revoked"`
}

// Active reports whether the credential can still verify at the given time.
func (c *Credential) Active(now time.Time) bool {
	if c.Revoked {
		return false
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return false
	}
	return true
}

// CredentialSecret is the hash record, stored apart from metadata so a
// metadata read can never yield material usable to forge a credential.
// It exists iff the credential is not revoked.
type CredentialSecret struct {
	CredentialID string
	Salt         string // hex
	Hash         string // hex of sha256(salt || secret value)
}

// Actor identifies the caller of an administrative or lifecycle operation.
// Admin marks an administrative override established by the caller's own
// authorization path, not by this engine.
type Actor struct {
	PrincipalID string
	Admin       bool
}

func (a Actor) owns(c *Credential) bool {
	return a.Admin || (a.PrincipalID != "" && a.PrincipalID == c.OwnerID)
}

// CreateCredential mints a new credential for owner. The returned secret
// value is never retrievable again; only its salted hash is stored.
func (e *Engine) CreateCredential(ctx context.Context, ownerID, description string) (string, *Credential, error) {
	if ownerID == "" {
		return "", nil, fmt.Errorf("owner is required: %w", ErrInvalid)
	}
	if err := validateDescription(description); err != nil {
		return "", nil, err
	}

	secretValue, prefix, err := generateSecretValue()
	if err != nil {
		return "", nil, err
	}
	salt, err := randomHex(saltBytes)
	if err != nil {
		return "", nil, err
	}

	cred := &Credential{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Description: description,
		Prefix:      prefix,
		CreatedAt:   time.Now(),
	}
	if e.credentialTTL > 0 {
		cred.ExpiresAt = cred.CreatedAt.Add(e.credentialTTL)
	}
	secret := &CredentialSecret{
		CredentialID: cred.ID,
		Salt:         salt,
		Hash:         hashSecret(salt, secretValue),
	}

	if err := e.credentials.CreateCredential(ctx, cred, secret); err != nil {
		return "", nil, fmt.Errorf("create credential: %w", err)
	}

	e.logger.Info("credential created", "credential", cred.ID, "owner", ownerID)
	e.recordEvent(EventCredentialCreated, ownerID, cred.ID, map[string]any{"description": description})
	return secretValue, cred, nil
}

// VerifyCredential checks a presented secret value and returns the owning
// principal. All failure modes (unknown prefix, revoked, expired, hash
// mismatch) collapse into a plain false.
func (e *Engine) VerifyCredential(ctx context.Context, secretValue string) (string, bool) {
	return e.VerifyCredentialFor(ctx, secretValue, "")
}

// VerifyCredentialFor additionally rejects a valid credential whose owner
// differs from an already-established session identity. This closes the
// confused-deputy path where one principal's credential is replayed under
// another's session.
func (e *Engine) VerifyCredentialFor(ctx context.Context, secretValue, sessionPrincipalID string) (string, bool) {
	prefix, ok := splitSecretValue(secretValue)
	if !ok {
		return "", false
	}

	cred, err := e.credentials.GetCredentialByPrefix(ctx, prefix)
	if err != nil || cred == nil {
		return "", false
	}
	now := time.Now()
	if !cred.Active(now) {
		return "", false
	}

	// The secret record is deleted on revocation, so this path fails closed
	// even if the metadata row was left behind.
	secret, err := e.credentials.GetSecret(ctx, cred.ID)
	if err != nil || secret == nil {
		return "", false
	}

	candidate, err := hex.DecodeString(hashSecret(secret.Salt, secretValue))
	if err != nil {
		return "", false
	}
	stored, err := hex.DecodeString(secret.Hash)
	if err != nil {
		return "", false
	}
	if subtle.ConstantTimeCompare(candidate, stored) != 1 {
		return "", false
	}

	if sessionPrincipalID != "" && sessionPrincipalID != cred.OwnerID {
		e.logger.Info("credential owner mismatch", "credential", cred.ID, "session", sessionPrincipalID)
		return "", false
	}

	e.scheduleLastUsed(cred.ID, now)
	return cred.OwnerID, true
}

// scheduleLastUsed defers the last_used_at write, coalesced to at most one
// per credential per interval, and silently no-ops when the queue is full.
func (e *Engine) scheduleLastUsed(credentialID string, now time.Time) {
	if prev, ok := e.lastUsedSeen.Load(credentialID); ok {
		if now.Sub(time.Unix(0, prev.(int64))) < e.lastUsedInterval {
			return
		}
	}
	e.lastUsedSeen.Store(credentialID, now.UnixNano())
	select {
	case e.lastUsedCh <- lastUsedUpdate{credentialID: credentialID, at: now}:
	default:
	}
}

// RevokeCredential deletes the secret record and flips the revoked flag.
// It returns false, not an error, when the credential is missing or already
// revoked; ErrUnauthorized when the caller neither owns the credential nor
// holds the administrative override.
func (e *Engine) RevokeCredential(ctx context.Context, credentialID string, caller Actor) (bool, error) {
	cred, err := e.credentials.GetCredential(ctx, credentialID)
	if err != nil || cred == nil {
		return false, nil
	}
	if !caller.owns(cred) {
		return false, fmt.Errorf("revoke credential %s: %w", credentialID, ErrUnauthorized)
	}
	if cred.Revoked {
		return false, nil
	}

	// Secret first: once it is gone the verify path fails closed regardless
	// of what happens to the metadata row.
	if err := e.credentials.DeleteSecret(ctx, credentialID); err != nil {
		return false, fmt.Errorf("delete secret: %w", err)
	}
	if err := e.credentials.MarkRevoked(ctx, credentialID); err != nil {
		return false, fmt.Errorf("mark revoked: %w", err)
	}

	e.logger.Info("credential revoked", "credential", credentialID, "caller", caller.PrincipalID)
	e.recordEvent(EventCredentialRevoked, cred.OwnerID, credentialID, nil)
	return true, nil
}

// RotateCredential atomically replaces a credential: it validates ownership
// and active status, creates a successor with the same description, then
// revokes the old one. A failed revoke unwinds the successor so no new
// credential is left dangling.
func (e *Engine) RotateCredential(ctx context.Context, credentialID string, caller Actor) (string, *Credential, error) {
	old, err := e.credentials.GetCredential(ctx, credentialID)
	if err != nil || old == nil {
		return "", nil, fmt.Errorf("rotate credential %s: %w", credentialID, ErrNotFound)
	}
	if !caller.owns(old) {
		return "", nil, fmt.Errorf("rotate credential %s: %w", credentialID, ErrUnauthorized)
	}
	if !old.Active(time.Now()) {
		return "", nil, fmt.Errorf("rotate credential %s: not active: %w", credentialID, ErrInvalid)
	}

	secretValue, next, err := e.CreateCredential(ctx, old.OwnerID, old.Description)
	if err != nil {
		return "", nil, err
	}

	if err := e.credentials.DeleteSecret(ctx, old.ID); err != nil {
		_ = e.credentials.DeleteCredential(ctx, next.ID)
		return "", nil, fmt.Errorf("rotate credential %s: %w", credentialID, err)
	}
	if err := e.credentials.MarkRevoked(ctx, old.ID); err != nil {
		_ = e.credentials.DeleteCredential(ctx, next.ID)
		return "", nil, fmt.Errorf("rotate credential %s: %w", credentialID, err)
	}

	e.logger.Info("credential rotated", "old", old.ID, "new", next.ID, "owner", old.OwnerID)
	e.recordEvent(EventCredentialRotated, old.OwnerID, old.ID, map[string]any{"successor": next.ID})
	return secretValue, next, nil
}

// ListCredentials returns metadata for the owner's credentials. Hash records
// are never included.
func (e *Engine) ListCredentials(ctx context.Context, ownerID string) ([]*Credential, error) {
	return e.credentials.ListCredentials(ctx, ownerID)
}

// helpers

func validateDescription(description string) error {
	if len(description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d chars: %w", maxDescriptionLen, ErrInvalid)
	}
	if !utils.ValidDescription(description) {
		return fmt.Errorf("description has disallowed characters: %w", ErrInvalid)
	}
	return nil
}

func generateSecretValue() (value, prefix string, err error) {
	prefix, err = randomHex(prefixBytes)
	if err != nil {
		return "", "", err
	}
	raw := make([]byte, suffixBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	suffix := base64.RawURLEncoding.EncodeToString(raw)
	return credentialScheme + prefix + credentialDelimiter + suffix, prefix, nil
}

func splitSecretValue(value string) (prefix string, ok bool) {
	if !strings.HasPrefix(value, credentialScheme) {
		return "", false
	}
	rest := value[len(credentialScheme):]
	idx := strings.Index(rest, credentialDelimiter)
	if idx != prefixBytes*2 {
		return "", false
	}
	if len(rest[idx+1:]) == 0 {
		return "", false
	}
	return rest[:idx], true
}

func hashSecret(saltHex, secretValue string) string {
	h := sha256.New()
	h.Write([]byte(saltHex))
	h.Write([]byte(secretValue))
	return hex.EncodeToString(h.Sum(nil))
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
