package identity

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/walid-hamdi/Comminq-backend/cmd/identity/ids"
)

// Integration tests are opt-in and require COMMINQ_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Contract(t *testing.T) {
	admin := mustOpenTestPool(t, "")
	t.Cleanup(admin.Close)

	storeContract(t, func(t *testing.T) Store {
		t.Helper()

		schema := mustCreateTestSchema(t, admin)
		t.Cleanup(func() { mustDropSchema(t, admin, schema) })

		pool := mustOpenTestPool(t, schema)
		t.Cleanup(pool.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := Migrate(ctx, pool); err != nil {
			t.Fatalf("migrate: %v", err)
		}

		s, err := NewPostgresStore(pool, WithSchema(schema))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestPostgresStore_MigrateIdempotent(t *testing.T) {
	admin := mustOpenTestPool(t, "")
	t.Cleanup(admin.Close)

	schema := mustCreateTestSchema(t, admin)
	t.Cleanup(func() { mustDropSchema(t, admin, schema) })

	pool := mustOpenTestPool(t, schema)
	t.Cleanup(pool.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, pool); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
}

func TestWithSchema_RejectsUnsafeIdentifiers(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "  ", "public;drop", "1abc", "a-b"} {
		st := &PostgresStore{}
		if err := WithSchema(bad)(st); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	st := &PostgresStore{}
	if err := WithSchema("comminq_it")(st); err != nil || st.schema != "comminq_it" {
		t.Fatalf("expected valid schema, got err=%v schema=%q", err, st.schema)
	}
}

// mustOpenTestPool connects to COMMINQ_DATABASE_URL; a non-empty searchPath pins
// every connection to that schema so migrations land there.
func mustOpenTestPool(t *testing.T, searchPath string) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("COMMINQ_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: COMMINQ_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse COMMINQ_DATABASE_URL: %v", err)
	}
	if searchPath != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = searchPath
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (COMMINQ_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.New(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "comminq_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
