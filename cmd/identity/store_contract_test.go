package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// storeContract exercises the Store semantics every implementation must share.
func storeContract(t *testing.T, mk func(t *testing.T) Store) {
	t.Helper()

	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	t.Run("CreateConflictCaseInsensitive", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		if _, err := s.Create(ctx, newInput("User@Example.com", base)); err != nil {
			t.Fatalf("create 1: %v", err)
		}
		_, err := s.Create(ctx, newInput("  user@example.COM ", base))
		if !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
		var ce ConflictError
		if !errors.As(err, &ce) || ce.Field != "email" {
			t.Fatalf("expected email conflict field, got %v", err)
		}
	})

	t.Run("CreateRejectsEmptyCredential", func(t *testing.T) {
		s := mk(t)
		in := newInput("empty@example.com", base)
		in.CredentialHash = ""
		if _, err := s.Create(testCtx(t), in); !IsInvalidInput(err) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("CreateIfAbsentKeepsExisting", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		first, err := s.Create(ctx, newInput("local@example.com", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		in := newInput("LOCAL@example.com", base)
		in.Name = "Other"
		in.ExternalLinked = true
		in.Verified = true
		got, created, err := s.CreateIfAbsent(ctx, in)
		if err != nil {
			t.Fatalf("create if absent: %v", err)
		}
		if created {
			t.Fatalf("expected existing account to be reused")
		}
		if got.ID != first.ID || got.Name != first.Name || got.ExternalLinked || got.Verified {
			t.Fatalf("existing account was modified: %+v", got)
		}

		fresh, created, err := s.CreateIfAbsent(ctx, newInput("fresh@example.com", base))
		if err != nil || !created || fresh.ID == "" {
			t.Fatalf("expected creation, got created=%v err=%v", created, err)
		}
	})

	t.Run("VerificationTokenLifecycle", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		a, err := s.Create(ctx, newInput("verify@example.com", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		t1 := Secret{Hash: hex64("a"), ExpiresAt: base.Add(24 * time.Hour)}
		if err := s.SetVerificationToken(ctx, a.ID, t1, base); err != nil {
			t.Fatalf("set t1: %v", err)
		}
		t2 := Secret{Hash: hex64("b"), ExpiresAt: base.Add(24 * time.Hour)}
		if err := s.SetVerificationToken(ctx, a.ID, t2, base); err != nil {
			t.Fatalf("set t2: %v", err)
		}

		if _, err := s.ConsumeVerificationToken(ctx, t1.Hash, base.Add(time.Minute)); !IsNotFound(err) {
			t.Fatalf("expected replaced token to be not found, got %v", err)
		}

		got, err := s.ConsumeVerificationToken(ctx, t2.Hash, base.Add(time.Minute))
		if err != nil {
			t.Fatalf("consume t2: %v", err)
		}
		if !got.Verified {
			t.Fatalf("expected verified")
		}
		if _, err := s.ConsumeVerificationToken(ctx, t2.Hash, base.Add(2*time.Minute)); err != nil {
			t.Fatalf("repeat consume should be idempotent, got %v", err)
		}

		if _, err := s.ConsumeVerificationToken(ctx, t2.Hash, t2.ExpiresAt); KindOf(err) != ErrExpired {
			t.Fatalf("expected expired at boundary, got %v", err)
		}
	})

	t.Run("SetVerificationTokenUnknownAccount", func(t *testing.T) {
		s := mk(t)
		err := s.SetVerificationToken(testCtx(t), "01JZZZZZZZZZZZZZZZZZZZZZZZ", Secret{Hash: hex64("c"), ExpiresAt: base}, base)
		if !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("RecoveryCodeSingleUse", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		a, err := s.Create(ctx, newInput("reset@example.com", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		code := Secret{Hash: hex64("d"), ExpiresAt: base.Add(10 * time.Minute)}
		if _, err := s.SetRecoveryCode(ctx, "RESET@example.com", code, base); err != nil {
			t.Fatalf("set code: %v", err)
		}

		got, err := s.GetByRecoveryCode(ctx, a.Email, code.Hash)
		if err != nil || got.ID != a.ID {
			t.Fatalf("get by code: %v", err)
		}
		if _, err := s.GetByRecoveryCode(ctx, "other@example.com", code.Hash); !IsNotFound(err) {
			t.Fatalf("code must be scoped by email, got %v", err)
		}

		updated, err := s.ConsumeRecoveryCode(ctx, a.Email, code.Hash, "new-hash", base.Add(time.Minute))
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if updated.CredentialHash != "new-hash" || updated.RecoveryCodeHash != "" || updated.RecoveryExpiresAt != nil {
			t.Fatalf("expected credential swap and cleared code: %+v", updated)
		}

		if _, err := s.ConsumeRecoveryCode(ctx, a.Email, code.Hash, "newer-hash", base.Add(time.Minute)); !IsNotFound(err) {
			t.Fatalf("expected second consume to fail not found, got %v", err)
		}
	})

	t.Run("RecoveryCodeExpired", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		a, err := s.Create(ctx, newInput("late@example.com", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		code := Secret{Hash: hex64("e"), ExpiresAt: base.Add(10 * time.Minute)}
		if _, err := s.SetRecoveryCode(ctx, a.Email, code, base); err != nil {
			t.Fatalf("set code: %v", err)
		}
		_, err = s.ConsumeRecoveryCode(ctx, a.Email, code.Hash, "new-hash", code.ExpiresAt)
		if KindOf(err) != ErrInvalidOrExpired {
			t.Fatalf("expected invalid_or_expired, got %v", err)
		}
		still, err := s.GetByID(ctx, a.ID)
		if err != nil || still.CredentialHash != a.CredentialHash {
			t.Fatalf("credential must be unchanged: %v", err)
		}
	})

	t.Run("RecoveryCodeConcurrentConsume", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		a, err := s.Create(ctx, newInput("race@example.com", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		code := Secret{Hash: hex64("f"), ExpiresAt: base.Add(10 * time.Minute)}
		if _, err := s.SetRecoveryCode(ctx, a.Email, code, base); err != nil {
			t.Fatalf("set code: %v", err)
		}

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeRecoveryCode(ctx, a.Email, code.Hash, "winner-hash", base.Add(time.Minute)); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("ChangeCredentialCAS", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		in := newInput("cas@example.com", base)
		in.ExternalLinked = true
		a, err := s.Create(ctx, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.SetRecoveryCode(ctx, a.Email, Secret{Hash: hex64("g"), ExpiresAt: base.Add(time.Hour)}, base); err != nil {
			t.Fatalf("set code: %v", err)
		}

		got, err := s.ChangeCredential(ctx, a.ID, a.CredentialHash, "second-hash", base)
		if err != nil {
			t.Fatalf("change credential: %v", err)
		}
		if got.ExternalLinked || got.RecoveryCodeHash != "" || got.CredentialHash != "second-hash" {
			t.Fatalf("unexpected state after change: %+v", got)
		}

		if _, err := s.ChangeCredential(ctx, a.ID, a.CredentialHash, "third-hash", base); !IsConflict(err) {
			t.Fatalf("expected stale expected hash to conflict, got %v", err)
		}
		if _, err := s.ChangeCredential(ctx, "01JZZZZZZZZZZZZZZZZZZZZZZZ", "x", "y", base); !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("ChangeEmailResetsVerification", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		in := newInput("old@example.com", base)
		in.Verified = true
		a, err := s.Create(ctx, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.Create(ctx, newInput("taken@example.com", base)); err != nil {
			t.Fatalf("create 2: %v", err)
		}
		if err := s.SetVerificationToken(ctx, a.ID, Secret{Hash: hex64("h"), ExpiresAt: base.Add(time.Hour)}, base); err != nil {
			t.Fatalf("set token: %v", err)
		}

		if _, err := s.ChangeEmail(ctx, a.ID, "Taken@Example.com", base); !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}

		got, err := s.ChangeEmail(ctx, a.ID, "New@Example.com", base)
		if err != nil {
			t.Fatalf("change email: %v", err)
		}
		if got.Verified || got.EmailNorm != "new@example.com" || got.VerificationTokenHash != "" {
			t.Fatalf("unexpected state: %+v", got)
		}
		if _, err := s.GetByEmail(ctx, "old@example.com"); !IsNotFound(err) {
			t.Fatalf("old email must be released, got %v", err)
		}
		if _, err := s.GetByEmail(ctx, "NEW@example.com"); err != nil {
			t.Fatalf("new email lookup: %v", err)
		}
	})

	t.Run("DeleteInvalidatesSecrets", func(t *testing.T) {
		s := mk(t)
		ctx := testCtx(t)

		a, err := s.Create(ctx, newInput("gone@example.com", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		tok := Secret{Hash: hex64("i"), ExpiresAt: base.Add(time.Hour)}
		if err := s.SetVerificationToken(ctx, a.ID, tok, base); err != nil {
			t.Fatalf("set token: %v", err)
		}
		if err := s.Delete(ctx, a.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.ConsumeVerificationToken(ctx, tok.Hash, base); !IsNotFound(err) {
			t.Fatalf("expected token gone, got %v", err)
		}
		if err := s.Delete(ctx, a.ID); !IsNotFound(err) {
			t.Fatalf("expected second delete not found, got %v", err)
		}
		if _, err := s.Create(ctx, newInput("gone@example.com", base)); err != nil {
			t.Fatalf("email should be reusable after delete: %v", err)
		}
	})
}

func newInput(email string, now time.Time) CreateAccountInput {
	return CreateAccountInput{
		Email:          email,
		Name:           "Test User",
		CredentialHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehol",
		Now:            now,
	}
}

// hex64 returns a 64-char value shaped like a stored HMAC-SHA256 hex digest.
func hex64(seed string) string {
	return strings.Repeat(seed, 64)[:64]
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}
