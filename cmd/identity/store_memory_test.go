package identity

import (
	"testing"
	"time"
)

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()

	storeContract(t, func(t *testing.T) Store {
		t.Helper()
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := testCtx(t)

	a, err := s.Create(ctx, newInput("copy@example.com", time.Time{}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a.Verified = true
	a.CredentialHash = "tampered"

	got, err := s.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Verified || got.CredentialHash == "tampered" {
		t.Fatalf("caller mutation leaked into store: %+v", got)
	}
}
