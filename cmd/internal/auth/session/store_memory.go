package session

import (
	"context"
	"time"
)

// MemoryStore implements Store in memory. It backs the unit and handler
// tests; production always runs on PostgresStore.
//
// Concurrency model: one transaction at a time. Begin acquires a store-wide
// lock held until Commit/Rollback, which gives the same serialization the
// Postgres row locks provide (coarser, but the store is not meant for
// production load). Acquisition respects ctx and the configured lock timeout.
type MemoryStore struct {
	lock        chan struct{}
	lockTimeout time.Duration

	byID   map[string]Credential
	byHash map[string]string // secret_hash -> id
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore(cfg Config) *MemoryStore {
	s := &MemoryStore{
		lock:        make(chan struct{}, 1),
		lockTimeout: cfg.LockTimeout,
		byID:        make(map[string]Credential),
		byHash:      make(map[string]string),
	}
	s.lock <- struct{}{}
	return s
}

// Begin acquires the store lock, bounded by ctx and the lock timeout.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.lock:
		return &memTx{store: s, staged: make(map[string]Credential)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrLockTimeout
	}
}

// GetByID loads a committed credential row. It waits for any open
// transaction to finish first.
func (s *MemoryStore) GetByID(ctx context.Context, credentialID string) (Credential, error) {
	select {
	case <-s.lock:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	defer func() { s.lock <- struct{}{} }()

	c, ok := s.byID[credentialID]
	if !ok {
		return Credential{}, ErrInvalidCredential
	}
	return c, nil
}

type memTx struct {
	store *MemoryStore

	// staged holds rows created or mutated inside this transaction, applied
	// to the store maps on Commit.
	staged map[string]Credential
	done   bool
}

func (t *memTx) get(id string) (Credential, bool) {
	if c, ok := t.staged[id]; ok {
		return c, true
	}
	c, ok := t.store.byID[id]
	return c, ok
}

func (t *memTx) LockBySecretHash(_ context.Context, secretHash string) (Credential, error) {
	for _, c := range t.staged {
		if c.SecretHash == secretHash {
			return c, nil
		}
	}
	id, ok := t.store.byHash[secretHash]
	if !ok {
		return Credential{}, ErrInvalidCredential
	}
	c, ok := t.get(id)
	if !ok {
		return Credential{}, ErrInvalidCredential
	}
	return c, nil
}

func (t *memTx) LockByID(_ context.Context, credentialID string) (Credential, error) {
	c, ok := t.get(credentialID)
	if !ok {
		return Credential{}, ErrInvalidCredential
	}
	return c, nil
}

func (t *memTx) Create(_ context.Context, now time.Time, principalID, secretHash string, expiresAt time.Time, rotatedFromID *string) (Credential, error) {
	if _, exists := t.store.byHash[secretHash]; exists {
		return Credential{}, ErrDuplicateSecretHash
	}
	for _, c := range t.staged {
		if c.SecretHash == secretHash {
			return Credential{}, ErrDuplicateSecretHash
		}
	}

	lastUsed := now
	c := Credential{
		ID:            newCredentialID(),
		PrincipalID:   principalID,
		SecretHash:    secretHash,
		CreatedAt:     now,
		LastUsedAt:    &lastUsed,
		ExpiresAt:     expiresAt,
		RotatedFromID: rotatedFromID,
	}
	t.staged[c.ID] = c
	return c, nil
}

func (t *memTx) Revoke(_ context.Context, now time.Time, credentialID string, rotatedToID *string) error {
	c, ok := t.get(credentialID)
	if !ok {
		return ErrInvalidCredential
	}
	revoked := now
	c.RevokedAt = &revoked
	c.LastUsedAt = &revoked
	c.RotatedToID = rotatedToID
	t.staged[credentialID] = c
	return nil
}

func (t *memTx) RevokeAllForPrincipal(_ context.Context, now time.Time, principalID string) error {
	revoked := now
	for id, c := range t.store.byID {
		if c.PrincipalID != principalID {
			continue
		}
		if cur, ok := t.staged[id]; ok {
			c = cur
		}
		if c.RevokedAt != nil {
			continue
		}
		c.RevokedAt = &revoked
		t.staged[id] = c
	}
	for id, c := range t.staged {
		if c.PrincipalID == principalID && c.RevokedAt == nil {
			c.RevokedAt = &revoked
			t.staged[id] = c
		}
	}
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	for id, c := range t.staged {
		t.store.byID[id] = c
		t.store.byHash[c.SecretHash] = id
	}
	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.staged = nil
	t.release()
	return nil
}

func (t *memTx) release() {
	t.done = true
	t.store.lock <- struct{}{}
}
