package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialectRebind(t *testing.T) {
	query := "SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?"

	assert.Equal(t, query, SQLiteDialect.rebind(query))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3", PostgresDialect.rebind(query))
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("x").Valid)
}
