package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// NullString returns a valid NullString for non-empty s.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullUUID returns a valid NullUUID for a non-nil id.
func NullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// NullTime returns a valid NullTime for a non-zero t.
func NullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
