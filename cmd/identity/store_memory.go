package identity

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity/ids"
)

// MemoryStore is an in-process Store used in development mode and tests.
// It is safe for concurrent use; every method runs under one mutex, which
// gives the same compare-and-swap guarantees as the Postgres statements.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string // email_norm -> id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	acct, err := newAccount(op, in)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[acct.EmailNorm]; taken {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}
	s.put(acct)
	return acct, nil
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, in CreateAccountInput) (Account, bool, error) {
	const op = "identity.CreateIfAbsent"

	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}
	acct, err := newAccount(op, in)
	if err != nil {
		return Account{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, taken := s.byEmail[acct.EmailNorm]; taken {
		return *s.byID[id], false, nil
	}
	s.put(acct)
	return acct, true, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return *a, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetByEmail"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookupEmail(email)
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return *a, nil
}

func (s *MemoryStore) GetByVerificationToken(ctx context.Context, tokenHash string) (Account, error) {
	const op = "identity.GetByVerificationToken"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookupVerification(tokenHash)
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "verification_token"}
	}
	return *a, nil
}

func (s *MemoryStore) GetByRecoveryCode(ctx context.Context, email, codeHash string) (Account, error) {
	const op = "identity.GetByRecoveryCode"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookupEmail(email)
	if !ok || !hashEqual(a.RecoveryCodeHash, codeHash) {
		return Account{}, NotFoundError{Op: op, Resource: "recovery_code"}
	}
	return *a, nil
}

func (s *MemoryStore) SetVerificationToken(ctx context.Context, id string, sec Secret, now time.Time) error {
	const op = "identity.SetVerificationToken"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sec.Hash) == "" || sec.ExpiresAt.IsZero() {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing token hash or expiry"}
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	exp := sec.ExpiresAt.UTC()
	a.VerificationTokenHash = sec.Hash
	a.VerificationExpiresAt = &exp
	a.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (Account, error) {
	const op = "identity.ConsumeVerificationToken"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookupVerification(tokenHash)
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "verification_token"}
	}
	if a.VerificationExpiresAt == nil || !now.Before(*a.VerificationExpiresAt) {
		return Account{}, OpError{Op: op, Kind: ErrExpired, Msg: "verification token expired"}
	}
	a.Verified = true
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) SetRecoveryCode(ctx context.Context, email string, sec Secret, now time.Time) (Account, error) {
	const op = "identity.SetRecoveryCode"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(sec.Hash) == "" || sec.ExpiresAt.IsZero() {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing code hash or expiry"}
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookupEmail(email)
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	exp := sec.ExpiresAt.UTC()
	a.RecoveryCodeHash = sec.Hash
	a.RecoveryExpiresAt = &exp
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) ConsumeRecoveryCode(ctx context.Context, email, codeHash, newCredentialHash string, now time.Time) (Account, error) {
	const op = "identity.ConsumeRecoveryCode"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(newCredentialHash) == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty credential hash"}
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookupEmail(email)
	if !ok || !hashEqual(a.RecoveryCodeHash, codeHash) {
		return Account{}, NotFoundError{Op: op, Resource: "recovery_code"}
	}
	if a.RecoveryExpiresAt == nil || !now.Before(*a.RecoveryExpiresAt) {
		return Account{}, OpError{Op: op, Kind: ErrInvalidOrExpired, Msg: "recovery code expired"}
	}
	a.CredentialHash = newCredentialHash
	a.RecoveryCodeHash = ""
	a.RecoveryExpiresAt = nil
	a.ExternalLinked = false
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) ChangeCredential(ctx context.Context, id, expectedHash, newHash string, now time.Time) (Account, error) {
	const op = "identity.ChangeCredential"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(newHash) == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty credential hash"}
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if subtle.ConstantTimeCompare([]byte(a.CredentialHash), []byte(expectedHash)) != 1 {
		return Account{}, ConflictError{Op: op, Field: "credential"}
	}
	a.CredentialHash = newHash
	a.RecoveryCodeHash = ""
	a.RecoveryExpiresAt = nil
	a.ExternalLinked = false
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) ChangeEmail(ctx context.Context, id, email string, now time.Time) (Account, error) {
	const op = "identity.ChangeEmail"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	email = strings.TrimSpace(email)
	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if owner, taken := s.byEmail[norm]; taken && owner != a.ID {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}
	delete(s.byEmail, a.EmailNorm)
	a.Email = email
	a.EmailNorm = norm
	a.Verified = false
	a.VerificationTokenHash = ""
	a.VerificationExpiresAt = nil
	a.UpdatedAt = now
	s.byEmail[norm] = a.ID
	return *a, nil
}

func (s *MemoryStore) UpdateName(ctx context.Context, id, name string, now time.Time) (Account, error) {
	const op = "identity.UpdateName"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	now = orNow(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	a.Name = strings.TrimSpace(name)
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	const op = "identity.Delete"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	delete(s.byEmail, a.EmailNorm)
	delete(s.byID, a.ID)
	return nil
}

// ---- helpers (caller holds s.mu) ----

func (s *MemoryStore) put(a Account) {
	cp := a
	s.byID[a.ID] = &cp
	s.byEmail[a.EmailNorm] = a.ID
}

func (s *MemoryStore) lookupEmail(email string) (*Account, bool) {
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, false
	}
	a, ok := s.byID[id]
	return a, ok
}

func (s *MemoryStore) lookupVerification(tokenHash string) (*Account, bool) {
	if strings.TrimSpace(tokenHash) == "" {
		return nil, false
	}
	for _, a := range s.byID {
		if hashEqual(a.VerificationTokenHash, tokenHash) {
			return a, true
		}
	}
	return nil, false
}

// newAccount validates in and builds the row both stores insert.
func newAccount(op string, in CreateAccountInput) (Account, error) {
	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.CredentialHash) == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "credential hash is required"}
	}

	now := orNow(in.Now)
	id, err := ids.New(now)
	if err != nil {
		return Account{}, OpError{Op: op, Kind: ErrInternal, Err: err}
	}

	return Account{
		ID:             id,
		Email:          email,
		EmailNorm:      norm,
		Name:           strings.TrimSpace(in.Name),
		Picture:        strings.TrimSpace(in.Picture),
		CredentialHash: in.CredentialHash,
		Verified:       in.Verified,
		ExternalLinked: in.ExternalLinked,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// hashEqual compares two stored secret hashes in constant time; empty never matches.
func hashEqual(stored, candidate string) bool {
	if stored == "" || candidate == "" || len(stored) != len(candidate) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

func orNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
