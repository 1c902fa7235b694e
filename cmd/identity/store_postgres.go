package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
//   - Secret consumption is one UPDATE ... WHERE <secret still matches> statement;
//     RowsAffected()==1 decides the winner, a follow-up read only classifies the failure.
//   - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, email, email_norm, name, picture, credential_hash, verified, external_linked,
	verification_token_hash, verification_expires_at, recovery_code_hash, recovery_expires_at,
	created_at, updated_at`

func (s *PostgresStore) accounts() string { return pgIdent(s.schema, "accounts") }

func (s *PostgresStore) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.Create"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	acct, err := newAccount(op, in)
	if err != nil {
		return Account{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.accounts()+` (
		     id, email, email_norm, name, picture, credential_hash, verified, external_linked, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		acct.ID, acct.Email, acct.EmailNorm, acct.Name, acct.Picture,
		acct.CredentialHash, acct.Verified, acct.ExternalLinked, acct.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, in CreateAccountInput) (Account, bool, error) {
	const op = "identity.CreateIfAbsent"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, false, err
	}
	acct, err := newAccount(op, in)
	if err != nil {
		return Account{}, false, err
	}

	ct, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.accounts()+` (
		     id, email, email_norm, name, picture, credential_hash, verified, external_linked, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		   ON CONFLICT (email_norm) DO NOTHING`,
		acct.ID, acct.Email, acct.EmailNorm, acct.Name, acct.Picture,
		acct.CredentialHash, acct.Verified, acct.ExternalLinked, acct.CreatedAt,
	)
	if err != nil {
		return Account{}, false, err
	}
	if ct.RowsAffected() == 1 {
		return acct, true, nil
	}

	existing, err := s.getOne(ctx, op, "account", `WHERE email_norm = $1`, acct.EmailNorm)
	if err != nil {
		return Account{}, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	return s.getOne(ctx, op, "account", `WHERE id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetByEmail"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	return s.getOne(ctx, op, "account", `WHERE email_norm = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) GetByVerificationToken(ctx context.Context, tokenHash string) (Account, error) {
	const op = "identity.GetByVerificationToken"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return Account{}, NotFoundError{Op: op, Resource: "verification_token"}
	}
	return s.getOne(ctx, op, "verification_token", `WHERE verification_token_hash = $1`, tokenHash)
}

func (s *PostgresStore) GetByRecoveryCode(ctx context.Context, email, codeHash string) (Account, error) {
	const op = "identity.GetByRecoveryCode"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(codeHash) == "" {
		return Account{}, NotFoundError{Op: op, Resource: "recovery_code"}
	}
	return s.getOne(ctx, op, "recovery_code",
		`WHERE email_norm = $1 AND recovery_code_hash = $2`, NormalizeEmail(email), codeHash)
}

func (s *PostgresStore) SetVerificationToken(ctx context.Context, id string, sec Secret, now time.Time) error {
	const op = "identity.SetVerificationToken"

	if err := s.ready(ctx, op); err != nil {
		return err
	}
	if strings.TrimSpace(sec.Hash) == "" || sec.ExpiresAt.IsZero() {
		return pgInvalid(op, "missing token hash or expiry")
	}
	now = orNow(now)

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.accounts()+`
		    SET verification_token_hash = $1,
		        verification_expires_at = $2,
		        updated_at = $3
		  WHERE id = $4`,
		sec.Hash, sec.ExpiresAt.UTC(), now, strings.TrimSpace(id),
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

func (s *PostgresStore) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (Account, error) {
	const op = "identity.ConsumeVerificationToken"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return Account{}, NotFoundError{Op: op, Resource: "verification_token"}
	}
	now = orNow(now)

	acct, err := s.updateOne(ctx,
		`UPDATE `+s.accounts()+`
		    SET verified = true,
		        updated_at = $1
		  WHERE verification_token_hash = $2
		    AND verification_expires_at > $1
		RETURNING `+accountColumns,
		now, tokenHash,
	)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, err
	}

	// Lost or invalid: classify with a read. The read never grants anything.
	if _, getErr := s.GetByVerificationToken(ctx, tokenHash); getErr == nil {
		return Account{}, OpError{Op: op, Kind: ErrExpired, Msg: "verification token expired"}
	} else if !IsNotFound(getErr) {
		return Account{}, getErr
	}
	return Account{}, NotFoundError{Op: op, Resource: "verification_token"}
}

func (s *PostgresStore) SetRecoveryCode(ctx context.Context, email string, sec Secret, now time.Time) (Account, error) {
	const op = "identity.SetRecoveryCode"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(sec.Hash) == "" || sec.ExpiresAt.IsZero() {
		return Account{}, pgInvalid(op, "missing code hash or expiry")
	}
	now = orNow(now)

	acct, err := s.updateOne(ctx,
		`UPDATE `+s.accounts()+`
		    SET recovery_code_hash = $1,
		        recovery_expires_at = $2,
		        updated_at = $3
		  WHERE email_norm = $4
		RETURNING `+accountColumns,
		sec.Hash, sec.ExpiresAt.UTC(), now, NormalizeEmail(email),
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) ConsumeRecoveryCode(ctx context.Context, email, codeHash, newCredentialHash string, now time.Time) (Account, error) {
	const op = "identity.ConsumeRecoveryCode"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(newCredentialHash) == "" {
		return Account{}, pgInvalid(op, "empty credential hash")
	}
	if strings.TrimSpace(codeHash) == "" {
		return Account{}, NotFoundError{Op: op, Resource: "recovery_code"}
	}
	now = orNow(now)
	norm := NormalizeEmail(email)

	acct, err := s.updateOne(ctx,
		`UPDATE `+s.accounts()+`
		    SET credential_hash = $1,
		        recovery_code_hash = NULL,
		        recovery_expires_at = NULL,
		        external_linked = false,
		        updated_at = $2
		  WHERE email_norm = $3
		    AND recovery_code_hash = $4
		    AND recovery_expires_at > $2
		RETURNING `+accountColumns,
		newCredentialHash, now, norm, codeHash,
	)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, err
	}

	if _, getErr := s.GetByRecoveryCode(ctx, norm, codeHash); getErr == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidOrExpired, Msg: "recovery code expired"}
	} else if !IsNotFound(getErr) {
		return Account{}, getErr
	}
	return Account{}, NotFoundError{Op: op, Resource: "recovery_code"}
}

func (s *PostgresStore) ChangeCredential(ctx context.Context, id, expectedHash, newHash string, now time.Time) (Account, error) {
	const op = "identity.ChangeCredential"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(newHash) == "" {
		return Account{}, pgInvalid(op, "empty credential hash")
	}
	now = orNow(now)
	id = strings.TrimSpace(id)

	acct, err := s.updateOne(ctx,
		`UPDATE `+s.accounts()+`
		    SET credential_hash = $1,
		        recovery_code_hash = NULL,
		        recovery_expires_at = NULL,
		        external_linked = false,
		        updated_at = $2
		  WHERE id = $3
		    AND credential_hash = $4
		RETURNING `+accountColumns,
		newHash, now, id, expectedHash,
	)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, err
	}

	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		if IsNotFound(getErr) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, getErr
	}
	return Account{}, ConflictError{Op: op, Field: "credential"}
}

func (s *PostgresStore) ChangeEmail(ctx context.Context, id, email string, now time.Time) (Account, error) {
	const op = "identity.ChangeEmail"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	email = strings.TrimSpace(email)
	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, pgInvalid(op, "email is required")
	}
	now = orNow(now)

	acct, err := s.updateOne(ctx,
		`UPDATE `+s.accounts()+`
		    SET email = $1,
		        email_norm = $2,
		        verified = false,
		        verification_token_hash = NULL,
		        verification_expires_at = NULL,
		        updated_at = $3
		  WHERE id = $4
		RETURNING `+accountColumns,
		email, norm, now, strings.TrimSpace(id),
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) UpdateName(ctx context.Context, id, name string, now time.Time) (Account, error) {
	const op = "identity.UpdateName"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	now = orNow(now)

	acct, err := s.updateOne(ctx,
		`UPDATE `+s.accounts()+`
		    SET name = $1,
		        updated_at = $2
		  WHERE id = $3
		RETURNING `+accountColumns,
		strings.TrimSpace(name), now, strings.TrimSpace(id),
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const op = "identity.Delete"

	if err := s.ready(ctx, op); err != nil {
		return err
	}

	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.accounts()+` WHERE id = $1`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// ---- helpers ----

func (s *PostgresStore) ready(ctx context.Context, op string) error {
	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	return ctx.Err()
}

func (s *PostgresStore) getOne(ctx context.Context, op, resource, where string, args ...any) (Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM `+s.accounts()+` `+where, args...)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: resource}
		}
		return Account{}, err
	}
	return acct, nil
}

// updateOne runs an UPDATE ... RETURNING and scans the single resulting row.
// Zero affected rows surface as pgx.ErrNoRows.
func (s *PostgresStore) updateOne(ctx context.Context, sql string, args ...any) (Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, sql, args...))
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a       Account
		verHash *string
		recHash *string
		verExp  *time.Time
		recExp  *time.Time
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.EmailNorm,
		&a.Name,
		&a.Picture,
		&a.CredentialHash,
		&a.Verified,
		&a.ExternalLinked,
		&verHash,
		&verExp,
		&recHash,
		&recExp,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if verHash != nil {
		a.VerificationTokenHash = *verHash
	}
	if recHash != nil {
		a.RecoveryCodeHash = *recHash
	}
	a.VerificationExpiresAt = utcPtr(verExp)
	a.RecoveryExpiresAt = utcPtr(recExp)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_accounts_email_norm":
		return "email", true
	case "uq_accounts_verification_token_hash":
		return "verification_token", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "verification"):
			return "verification_token", true
		default:
			return "unique", true
		}
	}
}
