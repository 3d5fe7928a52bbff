package usage

import (
	"database/sql"
	"time"
)

// timeNow is swappable in tests to simulate expiry.
var timeNow = time.Now

func sqlString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
