package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{"postgres numbers placeholders", DialectPostgres, "SELECT a FROM t WHERE k = ? AND e > ?", "SELECT a FROM t WHERE k = $1 AND e > $2"},
		{"sqlite keeps placeholders", DialectSQLite, "SELECT a FROM t WHERE k = ?", "SELECT a FROM t WHERE k = ?"},
		{"no placeholders", DialectPostgres, "DELETE FROM t", "DELETE FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.Rebind(tt.query))
		})
	}
}
