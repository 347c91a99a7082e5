package postgres

import (
	"os"
	"testing"

	"github.com/vocalmail/vocalmail/internal/store"
	"github.com/vocalmail/vocalmail/internal/store/storetest"
)

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("VOCALMAIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOCALMAIL_TEST_POSTGRES_DSN not set; skipping postgres store integration test")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	if err := Bootstrap(t.Context(), dsn); err != nil {
		t.Fatalf("postgres bootstrap: %v", err)
	}
	// The suite asserts on counts, so start from empty tables.
	for _, q := range []string{`DELETE FROM emails`, `DELETE FROM ingest_jobs`} {
		if _, err := db.ExecContext(t.Context(), q); err != nil {
			t.Fatalf("postgres cleanup: %v", err)
		}
	}
	return NewWithDB(db)
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}
