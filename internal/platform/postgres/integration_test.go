//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/platform/postgres"
)

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	schema, err := os.ReadFile("../../../migrations/001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	for _, table := range []string{"recovery_tokens", "accounts", "documents", "files"} {
		db.Exec(ctx, "DELETE FROM "+table)
	}
	t.Cleanup(db.Close)
	return postgres.New(db, zap.NewNop())
}

func TestAccounts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a, err := s.CreateUser(ctx, "Alice@Example.com", "pw-12345", "Alice")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice@example.com", "other", "Dup"); !errors.Is(err, platform.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate email, got %v", err)
	}

	found, err := s.FindUserByEmail(ctx, "alice@example.com")
	if err != nil || found.ID != a.ID {
		t.Fatalf("FindUserByEmail() = %+v, %v", found, err)
	}

	if err := s.CheckPassword(ctx, "alice@example.com", "pw-12345"); err != nil {
		t.Errorf("CheckPassword(correct) error: %v", err)
	}
	if err := s.CheckPassword(ctx, "alice@example.com", "nope"); !errors.Is(err, platform.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := s.UpdatePassword(ctx, a.ID, "new-password"); err != nil {
		t.Fatalf("UpdatePassword() error: %v", err)
	}
	if err := s.CheckPassword(ctx, "alice@example.com", "new-password"); err != nil {
		t.Errorf("CheckPassword(new) error: %v", err)
	}
}

func TestDocuments_mergeAndUnique(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "profiles", "u1", map[string]any{"full_name": "Alice", "username": "alice"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := s.Create(ctx, "profiles", "u2", map[string]any{"full_name": "Bob", "username": ""}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := s.Update(ctx, "profiles", "u1", map[string]any{"mobile": "017"})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if d.String("full_name") != "Alice" || d.String("mobile") != "017" {
		t.Errorf("partial update lost data: %+v", d.Data)
	}

	if _, err := s.Update(ctx, "profiles", "u2", map[string]any{"username": "alice"}); !errors.Is(err, platform.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate username, got %v", err)
	}

	list, err := s.List(ctx, "profiles", platform.Search("full_name", "ali"), platform.Limit(5))
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "u1" {
		t.Errorf("List() = %+v", list)
	}

	if _, err := s.Get(ctx, "profiles", "missing"); !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.Upload(ctx, "pics", "a.png", []byte("\x89PNG\r\n\x1a\n"))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	rc, ct, err := s.Open(ctx, "pics", id)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if ct != "image/png" || len(body) != 8 {
		t.Errorf("Open() = %q, %d bytes", ct, len(body))
	}

	if err := s.Delete(ctx, "pics", id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete(ctx, "pics", id); !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
