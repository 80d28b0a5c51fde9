package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authkit"
)

// SQLCredentialStore persists credential metadata and hash records in two
// tables, so a metadata query can never pull hash material by accident.
type SQLCredentialStore struct {
	db *squealx.DB
}

func NewSQLCredentialStore(db *squealx.DB) *SQLCredentialStore {
	return &SQLCredentialStore{db: db}
}

func (s *SQLCredentialStore) CreateCredential(ctx context.Context, c *authkit.Credential, secret *authkit.CredentialSecret) error {
	q := `INSERT INTO credentials(id, owner_id, description, prefix, created_at, expires_at, last_used_at, revoked)
	      VALUES(:id, :owner_id, :description, :prefix, :created_at, :expires_at, :last_used_at, :revoked)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           c.ID,
		"owner_id":     c.OwnerID,
		"description":  c.Description,
		"prefix":       c.Prefix,
		"created_at":   c.CreatedAt,
		"expires_at":   sqlNullTimeOrNil(c.ExpiresAt),
		"last_used_at": sqlNullTimeOrNil(c.LastUsedAt),
		"revoked":      boolToInt(c.Revoked),
	})
	if err != nil {
		return err
	}
	q = `INSERT INTO credential_secrets(credential_id, salt, hash) VALUES(:credential_id, :salt, :hash)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"credential_id": secret.CredentialID,
		"salt":          secret.Salt,
		"hash":          secret.Hash,
	})
	return err
}

const credentialColumns = `id, owner_id, description, prefix, created_at, expires_at, last_used_at, revoked`

func (s *SQLCredentialStore) scanCredential(r rowScanner) (*authkit.Credential, error) {
	var id, owner, description, prefix string
	var createdRaw, expiresRaw, lastUsedRaw interface{}
	var revoked int
	if err := r.Scan(&id, &owner, &description, &prefix, &createdRaw, &expiresRaw, &lastUsedRaw, &revoked); err != nil {
		return nil, err
	}
	return &authkit.Credential{
		ID:          id,
		OwnerID:     owner,
		Description: description,
		Prefix:      prefix,
		CreatedAt:   scanTime(createdRaw),
		ExpiresAt:   scanTime(expiresRaw),
		LastUsedAt:  scanTime(lastUsedRaw),
		Revoked:     revoked != 0,
	}, nil
}

func (s *SQLCredentialStore) getCredential(ctx context.Context, q string, args map[string]any) (*authkit.Credential, error) {
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("credential: %w", authkit.ErrNotFound)
	}
	return s.scanCredential(r)
}

func (s *SQLCredentialStore) GetCredential(ctx context.Context, id string) (*authkit.Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = :id`
	return s.getCredential(ctx, q, map[string]any{"id": id})
}

func (s *SQLCredentialStore) GetCredentialByPrefix(ctx context.Context, prefix string) (*authkit.Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM credentials WHERE prefix = :prefix`
	return s.getCredential(ctx, q, map[string]any{"prefix": prefix})
}

func (s *SQLCredentialStore) ListCredentials(ctx context.Context, ownerID string) ([]*authkit.Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM credentials WHERE owner_id = :owner_id ORDER BY created_at`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.Credential, 0)
	for r.Next() {
		c, err := s.scanCredential(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLCredentialStore) GetSecret(ctx context.Context, credentialID string) (*authkit.CredentialSecret, error) {
	q := `SELECT credential_id, salt, hash FROM credential_secrets WHERE credential_id = :credential_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"credential_id": credentialID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	sec := &authkit.CredentialSecret{}
	if err := r.Scan(&sec.CredentialID, &sec.Salt, &sec.Hash); err != nil {
		return nil, err
	}
	return sec, nil
}

func (s *SQLCredentialStore) DeleteSecret(ctx context.Context, credentialID string) error {
	q := `DELETE FROM credential_secrets WHERE credential_id = :credential_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"credential_id": credentialID})
	return err
}

func (s *SQLCredentialStore) MarkRevoked(ctx context.Context, credentialID string) error {
	q := `UPDATE credentials SET revoked = 1 WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": credentialID})
	return err
}

func (s *SQLCredentialStore) DeleteCredential(ctx context.Context, id string) error {
	if err := s.DeleteSecret(ctx, id); err != nil {
		return err
	}
	q := `DELETE FROM credentials WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLCredentialStore) TouchLastUsed(ctx context.Context, credentialID string, at time.Time) error {
	q := `UPDATE credentials SET last_used_at = :at WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": credentialID, "at": at})
	return err
}
