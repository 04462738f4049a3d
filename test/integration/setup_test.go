package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/migrations"
)

// connStr points at the shared test server, initialized once in TestMain.
var connStr string

// TestMain uses TEST_DATABASE_URL when set and otherwise starts a throwaway
// container. Without either the suite is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr = os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
			os.Exit(0)
		}
	}

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// newSchemaPool creates a fresh schema, points a pool's search_path at it
// and applies the embedded migrations. The schema is dropped on cleanup.
func newSchemaPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := "queue_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")

	admin, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer admin.Close(ctx)
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		conn, err := pgx.Connect(context.Background(), connStr)
		if err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
			return
		}
		defer conn.Close(context.Background())
		if _, err := conn.Exec(context.Background(),
			"DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
	})

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func ptrStr(s string) *string { return &s }
