package identity

import (
	"context"
	"time"
)

// Account is the durable identity record owning credentials and verification state.
// CredentialHash, VerificationTokenHash and RecoveryCodeHash are never rendered or logged.
type Account struct {
	ID        string
	Email     string
	EmailNorm string
	Name      string
	Picture   string

	CredentialHash string

	Verified bool
	// ExternalLinked is set when the account was created by OAuth reconciliation
	// and cleared by the first local credential change.
	ExternalLinked bool

	VerificationTokenHash string
	VerificationExpiresAt *time.Time

	RecoveryCodeHash  string
	RecoveryExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingVerification reports whether a verification token is stored.
func (a Account) HasPendingVerification() bool { return a.VerificationTokenHash != "" }

// HasRecoveryCode reports whether a recovery code is stored and not yet expired at now.
func (a Account) HasRecoveryCode(now time.Time) bool {
	return a.RecoveryCodeHash != "" && a.RecoveryExpiresAt != nil && now.Before(*a.RecoveryExpiresAt)
}

// Secret is a hashed one-time value with its expiry instant.
// It is usable strictly before ExpiresAt.
type Secret struct {
	Hash      string
	ExpiresAt time.Time
}

// CreateAccountInput describes a new account.
// CredentialHash must already be hashed by the caller.
type CreateAccountInput struct {
	Email          string
	Name           string
	Picture        string
	CredentialHash string
	Verified       bool
	ExternalLinked bool
	Now            time.Time
}

// Store is the account persistence boundary.
//
// Every mutation is a single atomic statement keyed by id or email. Secret
// consumption is a compare-and-swap on the stored hash and expiry, so two
// concurrent consumers of the same secret see at most one success.
type Store interface {
	// Create inserts a new account. A taken email returns ConflictError{Field: "email"}.
	Create(ctx context.Context, in CreateAccountInput) (Account, error)
	// CreateIfAbsent inserts a new account unless the email is taken, in which
	// case the existing account is returned untouched with created=false.
	CreateIfAbsent(ctx context.Context, in CreateAccountInput) (acct Account, created bool, err error)

	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByVerificationToken(ctx context.Context, tokenHash string) (Account, error)
	GetByRecoveryCode(ctx context.Context, email, codeHash string) (Account, error)

	// SetVerificationToken replaces any previous token of the account.
	SetVerificationToken(ctx context.Context, id string, s Secret, now time.Time) error
	// ConsumeVerificationToken marks the holder verified if the token is unexpired at now.
	// Unknown token: NotFoundError. Expired token: OpError{Kind: ErrExpired}.
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (Account, error)

	// SetRecoveryCode replaces any previous code of the account owning email.
	SetRecoveryCode(ctx context.Context, email string, s Secret, now time.Time) (Account, error)
	// ConsumeRecoveryCode swaps the credential and clears the code (and ExternalLinked)
	// only if the code still matches and is unexpired at now.
	// No match: NotFoundError. Matching but expired: OpError{Kind: ErrInvalidOrExpired}.
	ConsumeRecoveryCode(ctx context.Context, email, codeHash, newCredentialHash string, now time.Time) (Account, error)

	// ChangeCredential swaps the credential only if the stored hash still equals
	// expectedHash; it clears any recovery code and ExternalLinked.
	// A lost race returns ConflictError{Field: "credential"}.
	ChangeCredential(ctx context.Context, id, expectedHash, newHash string, now time.Time) (Account, error)
	// ChangeEmail sets a new email, resets Verified and drops the pending verification token.
	ChangeEmail(ctx context.Context, id, email string, now time.Time) (Account, error)
	UpdateName(ctx context.Context, id, name string, now time.Time) (Account, error)

	// Delete removes the account and, with it, every outstanding secret.
	Delete(ctx context.Context, id string) error
}
