package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConnectionString(t *testing.T) {
	tests := map[string]struct {
		values   map[string]string
		expected string
	}{
		"empty": {
			values:   map[string]string{},
			expected: "",
		},
		"sorted": {
			values:   map[string]string{"port": "5432", "host": "localhost"},
			expected: "host='localhost' port='5432'",
		},
		"escaped": {
			values:   map[string]string{"password": `it's\me`},
			expected: `password='it\'s\\me'`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CreateConnectionString(tc.values))
		})
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_queue.sql": {Data: []byte("CREATE TABLE queue();")},
		"migrations/001_init.sql":  {Data: []byte("CREATE TABLE job_type();")},
		"migrations/README.md":     {Data: []byte("ignored")},
	}
	migrations, err := ReadMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, Migration{Id: 1, Name: "001_init.sql", Sql: "CREATE TABLE job_type();"}, migrations[0])
	assert.Equal(t, 2, migrations[1].Id)
}

func TestReadMigrations_InvalidName(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/init.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := ReadMigrations(fsys, "migrations")
	assert.Error(t, err)
}
