package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/backend/backendtest"
)

// testConnString returns the database used for tests, skipping when none is configured.
func testConnString(t *testing.T) string {
	t.Helper()

	connStr := os.Getenv("TBF_TEST_POSTGRES")
	if connStr == "" {
		t.Skip("TBF_TEST_POSTGRES not set")
	}

	return connStr
}

func resetDatabase(t *testing.T, connStr string) {
	t.Helper()

	conn, err := pgx.Connect(context.Background(), connStr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(context.Background(),
		"DROP TABLE IF EXISTS tbf_tags, tbf_files, tbf_data, tbf_state"); err != nil {
		t.Fatalf("Failed to reset database: %v", err)
	}
}

func TestPostgresBackend_Conformance(t *testing.T) {
	connStr := testConnString(t)

	backendtest.Run(t, func(t *testing.T) (tbf.FileSystem, error) {
		resetDatabase(t, connStr)
		return NewPostgresBackend(connStr)
	})
}

func TestPostgresBackend_SharedCounter(t *testing.T) {
	connStr := testConnString(t)
	resetDatabase(t, connStr)

	factory := func(t *testing.T) (tbf.FileSystem, error) {
		return NewPostgresBackend(connStr)
	}

	first := backendtest.Open(t, factory)
	second := backendtest.Open(t, factory)

	a := backendtest.MustAdd(t, first, []byte("a"))
	b := backendtest.MustAdd(t, second, []byte("b"))
	c := backendtest.MustAdd(t, first, []byte("c"))

	if !(a < b && b < c) {
		t.Fatalf("Expected increasing ids across instances, got %s %s %s", a, b, c)
	}

	if first.(*PostgresBackend).Known(b) {
		t.Errorf("Expected %s to be unknown to the first instance", b)
	}

	info, err := first.GetInfo(t.Context(), b)
	if err != nil {
		t.Fatalf("GetInfo across instances failed: %v", err)
	}
	if string(info.Data()) != "b" {
		t.Errorf("Expected data 'b', got %q", info.Data())
	}
}

func TestNewPostgresBackend_InvalidConnString(t *testing.T) {
	if _, err := NewPostgresBackend("postgres://%zz"); err == nil {
		t.Fatal("Expected error for invalid connection string")
	}
}
