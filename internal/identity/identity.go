/*
Package identity implements the IdentityProvider external collaborator
the engine leaves abstract: validating that a credential presented in a
KeyPackage or LeafNode is one this deployment trusts, and resolving a
credential to the signature key it's supposed to own. The engine never
decides what makes a credential trustworthy — that policy question
belongs here, one layer up from the protocol state machine.
*/
package identity

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

var (
	// ErrCredentialNotFound means no member record matches the
	// presented credential at all.
	ErrCredentialNotFound = errors.New("identity: credential not found")
	// ErrSignatureKeyMismatch means the credential is known but the
	// signature key bound to it doesn't match the one presented.
	ErrSignatureKeyMismatch = errors.New("identity: signature key does not match credential")
	// ErrMemberRevoked means the credential was valid once but this
	// deployment has since revoked it.
	ErrMemberRevoked = errors.New("identity: member revoked")
)

// Member is the record this provider validates a credential against.
type Member struct {
	ID           uuid.UUID
	Credential   []byte
	SignatureKey []byte
	Revoked      bool
	CreatedAt    time.Time
}

// Provider is the interface the group aggregate's callers consult
// before accepting an Add proposal or a Welcome-sourced leaf: does this
// credential belong to someone this deployment trusts, and does the
// signature key presented alongside it match what's on file.
type Provider interface {
	Validate(ctx context.Context, credential, signatureKey []byte) error
	Register(ctx context.Context, credential, signatureKey []byte) (*Member, error)
	Revoke(ctx context.Context, credential []byte) error
}

// PostgresProvider is a Provider backed by a Postgres members table,
// following the Service-over-*sql.DB shape every teacher service uses:
// plain SQL through database/sql, sentinel errors, fmt.Errorf wrapping.
type PostgresProvider struct {
	db *sql.DB
}

// NewPostgresProvider wraps an already-connected *sql.DB.
func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

// Register inserts a new trusted credential/signature-key pair.
func (p *PostgresProvider) Register(ctx context.Context, credential, signatureKey []byte) (*Member, error) {
	m := &Member{
		ID:           uuid.New(),
		Credential:   credential,
		SignatureKey: signatureKey,
		CreatedAt:    time.Now(),
	}

	query := `
		INSERT INTO mls_members (id, credential, signature_key, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := p.db.QueryRowContext(ctx, query,
		m.ID, m.Credential, m.SignatureKey, false, m.CreatedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("identity: register member: %w", err)
	}
	return m, nil
}

// Validate checks that credential is on file, not revoked, and bound
// to exactly the signatureKey presented. This is consulted whenever a
// Group is about to trust a new leaf (an inbound Add proposal's
// KeyPackage or a Welcome's RatchetTree).
func (p *PostgresProvider) Validate(ctx context.Context, credential, signatureKey []byte) error {
	var m Member
	query := `SELECT id, credential, signature_key, revoked, created_at FROM mls_members WHERE credential = $1`
	err := p.db.QueryRowContext(ctx, query, credential).Scan(&m.ID, &m.Credential, &m.SignatureKey, &m.Revoked, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCredentialNotFound
	}
	if err != nil {
		return fmt.Errorf("identity: validate credential: %w", err)
	}
	if m.Revoked {
		return ErrMemberRevoked
	}
	if !ciphersuite.ConstantTimeEqual(m.SignatureKey, signatureKey) {
		return ErrSignatureKeyMismatch
	}
	return nil
}

// Revoke marks a credential untrusted; subsequent Validate calls fail
// with ErrMemberRevoked, but existing group membership is untouched —
// eviction still requires an explicit Remove proposal/commit.
func (p *PostgresProvider) Revoke(ctx context.Context, credential []byte) error {
	res, err := p.db.ExecContext(ctx, `UPDATE mls_members SET revoked = true WHERE credential = $1`, credential)
	if err != nil {
		return fmt.Errorf("identity: revoke credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("identity: revoke credential: %w", err)
	}
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// MemoryProvider is an in-process Provider for tests and single-node
// demo runs, guarded the same way the teacher's in-memory room/hub
// state is: a mutex over a plain map, no persistence.
type MemoryProvider struct {
	mu      sync.Mutex
	members map[string]*Member
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{members: make(map[string]*Member)}
}

func credentialKey(credential []byte) string {
	return hex.EncodeToString(credential)
}

// Register implements Provider.
func (p *MemoryProvider) Register(ctx context.Context, credential, signatureKey []byte) (*Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := &Member{
		ID:           uuid.New(),
		Credential:   credential,
		SignatureKey: signatureKey,
		CreatedAt:    time.Now(),
	}
	p.members[credentialKey(credential)] = m
	return m, nil
}

// Validate implements Provider.
func (p *MemoryProvider) Validate(ctx context.Context, credential, signatureKey []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[credentialKey(credential)]
	if !ok {
		return ErrCredentialNotFound
	}
	if m.Revoked {
		return ErrMemberRevoked
	}
	if !ciphersuite.ConstantTimeEqual(m.SignatureKey, signatureKey) {
		return ErrSignatureKeyMismatch
	}
	return nil
}

// Revoke implements Provider.
func (p *MemoryProvider) Revoke(ctx context.Context, credential []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[credentialKey(credential)]
	if !ok {
		return ErrCredentialNotFound
	}
	m.Revoked = true
	return nil
}
