package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/build-coordinator/pkg/storage/sqlstore"
)

func TestNewDatabaseFactory(t *testing.T) {
	for _, tc := range []struct {
		dbType string
		dsn    string
	}{
		{dbType: "memory"},
		{dbType: "sqlite", dsn: filepath.Join(t.TempDir(), "f.db")},
	} {
		t.Run(tc.dbType, func(t *testing.T) {
			f, err := NewDatabaseFactory(tc.dbType, tc.dsn, sqlstore.PoolOptions{})
			require.NoError(t, err)

			repo, err := f.CreateBuildRecordRepo()
			require.NoError(t, err)
			_, err = repo.MaxTaskID(context.Background())
			require.NoError(t, err)

			require.NoError(t, f.Close())
			_, err = f.CreateBuildRecordRepo()
			assert.Error(t, err)
			assert.NoError(t, f.Close())
		})
	}
}

func TestNewDatabaseFactory_Unsupported(t *testing.T) {
	_, err := NewDatabaseFactory("oracle", "x", sqlstore.PoolOptions{})
	assert.Error(t, err)
}
