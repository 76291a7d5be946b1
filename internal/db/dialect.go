package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// SearchClause builds a case-insensitive substring match over the given
// columns, returning the SQL condition and its arguments for the current
// dialect. SQLite has no ILIKE, so it lowers both sides instead.
func SearchClause(conn *gorm.DB, term string, columns ...string) (string, []any) {
	pattern := "%" + term + "%"
	sqlite := IsSQLite(conn)

	parts := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, column := range columns {
		if sqlite {
			parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE ?", column))
			args = append(args, strings.ToLower(pattern))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s ILIKE ?", column))
		args = append(args, pattern)
	}
	return strings.Join(parts, " OR "), args
}
