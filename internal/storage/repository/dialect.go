package repository

import (
	"strconv"
	"strings"
)

// Dialect SQL-диалект хранилища
type Dialect string

// Supported dialects
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Rebind переводит плейсхолдеры ? в $n для PostgreSQL
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// expiresAt переводит TTL в unix nanos (0 означает без срока)
func expiresAt(now int64, ttlNanos int64) int64 {
	if ttlNanos <= 0 {
		return 0
	}
	return now + ttlNanos
}
