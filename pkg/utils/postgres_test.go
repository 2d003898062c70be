package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert event: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation must not match")
	}
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected 23503 to be a foreign key violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error must not match")
	}
}

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 10}.withDefaults()
	if got.MaxIdleConns != 4 {
		t.Fatalf("idle conns should be clamped to open conns, got %d", got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout %s", got.PingTimeout)
	}
}
