package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresDialect(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.UpsertSQL("t", []string{"id", "name"}, "id", []string{"name"})
	assert.Equal(t, "INSERT INTO t (id, name) VALUES (:id, :name) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name", sql)
	assert.Equal(t, "CREATE TABLE t (at TIMESTAMP NULL);", d.CreateTableSQL("CREATE TABLE t (at DATETIME NULL);"))
	assert.False(t, d.InlineIndexes())
}
