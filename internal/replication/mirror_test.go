package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbot/internal/testutil"
)

func TestCoerceType(t *testing.T) {
	cases := map[string]string{
		"INTEGER":         "BIGINT",
		"BIGINT":          "BIGINT",
		"REAL":            "DOUBLE",
		"NUMERIC(10,2)":   "DOUBLE",
		"DATETIME":        "DATETIME",
		"DATE":            "DATETIME",
		"BLOB":            "LONGBLOB",
		"TEXT":            "LONGTEXT",
		"VARCHAR(255)":    "LONGTEXT",
	}
	for sqliteType, want := range cases {
		assert.Equal(t, want, coerceType(sqliteType), "type %s", sqliteType)
	}
}

func TestReflectTableDetectsAutoIncrementPrimaryKey(t *testing.T) {
	db := testutil.OpenDB(t)

	cols, autoIncrement, err := reflectTable(db.DB, "ledger_entries")
	require.NoError(t, err)
	require.NotEmpty(t, cols)
	assert.True(t, autoIncrement, "ledger_entries.id is an AUTOINCREMENT primary key")

	var idCol *mysqlColumn
	for i := range cols {
		if cols[i].Name == "id" {
			idCol = &cols[i]
		}
	}
	require.NotNil(t, idCol)
	assert.True(t, idCol.PrimaryKey)
	assert.Equal(t, "BIGINT", idCol.MySQLType)
}

func TestReflectTableCoercesColumnTypes(t *testing.T) {
	db := testutil.OpenDB(t)

	cols, _, err := reflectTable(db.DB, "ledger_entries")
	require.NoError(t, err)

	byName := make(map[string]mysqlColumn, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}
	assert.Equal(t, "BIGINT", byName["amount_cents"].MySQLType)
	assert.Equal(t, "DATETIME", byName["created_at"].MySQLType)
	assert.Equal(t, "LONGTEXT", byName["reason"].MySQLType)
}
