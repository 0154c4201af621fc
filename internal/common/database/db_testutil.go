package database

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/common/util"
)

// TestPostgresEnvVar names the environment variable holding the libpq connection string of a Postgres server
// that tests may create databases on. Tests needing Postgres are skipped if it is unset.
const TestPostgresEnvVar = "SCALE_TEST_POSTGRES"

// WithTestDb creates a dedicated database, applies migrations, and passes a pool connected to it to action.
// The database is dropped afterwards.
func WithTestDb(t *testing.T, migrations []Migration, action func(db *pgxpool.Pool) error) error {
	connectionString := os.Getenv(TestPostgresEnvVar)
	if connectionString == "" {
		t.Skipf("%s not set", TestPostgresEnvVar)
	}
	ctx := context.Background()

	dbName := "test_" + util.NewULID()
	db, err := pgx.Connect(ctx, connectionString)
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close(ctx)

	if _, err := db.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		return errors.WithStack(err)
	}

	// Connect again: this time to the database we just created.
	testDbPool, err := pgxpool.Connect(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		testDbPool.Close()
		// disconnect all db user before cleanup
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			fmt.Println("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			fmt.Println("Failed to drop database")
		}
	}()

	if err := UpdateDatabase(ctx, testDbPool, migrations); err != nil {
		return errors.WithStack(err)
	}

	return action(testDbPool)
}
