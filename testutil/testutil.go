// Package testutil provides the scratch-database-per-test helper
// shared by every package's DB-gated tests, narrowing the teacher's
// YAML+testify fixture harness (which drove its generic, multi-dialect
// Database interface) to this module's single dialect and its own
// typed pipeline: there is no DDL-text fixture format to replay here,
// so the only thing worth sharing across packages is connecting to a
// disposable Postgres database.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"

	_ "github.com/lib/pq"

	"github.com/bearcove/dibs/util"
)

func init() {
	util.InitSlog()
}

// SetupTestDatabase connects to a scratch Postgres database dedicated
// to the running test, dropping and recreating it first so each test
// starts from a clean slate, and registers a t.Cleanup to drop it
// afterward. It skips the test via t.Skip if no server is reachable,
// so these tests run only where Postgres is actually available,
// mirroring database/postgres/database_test.go's setupTestDatabase.
func SetupTestDatabase(t *testing.T, dbName string) *sql.DB {
	t.Helper()

	host := "127.0.0.1"
	if h := os.Getenv("PGHOST"); h != "" {
		host = h
	}
	port := 5432
	if p := os.Getenv("PGPORT"); p != "" {
		if pInt, err := strconv.Atoi(p); err == nil {
			port = pInt
		}
	}
	user := "postgres"
	if u := os.Getenv("PGUSER"); u != "" {
		user = u
	}
	password := os.Getenv("PGPASSWORD")
	sslMode := "disable"
	if s := os.Getenv("PGSSLMODE"); s != "" {
		sslMode = s
	}

	ctx := context.Background()

	adminDSN := fmt.Sprintf("postgres://%s:%s@%s:%d/postgres?sslmode=%s", user, password, host, port, sslMode)
	adminDB, err := sql.Open("postgres", adminDSN)
	if err != nil {
		t.Skipf("no postgres server reachable: %v", err)
	}
	defer adminDB.Close()

	if err := adminDB.PingContext(ctx); err != nil {
		t.Skipf("no postgres server reachable: %v", err)
	}

	adminDB.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
	if _, err := adminDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		t.Fatalf("create test database %q: %v", dbName, err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, dbName, sslMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test database %q: %v", dbName, err)
	}

	t.Cleanup(func() {
		db.Close()
		adminDB.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
	})

	return db
}
