package audit

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	schema: []string{`
	CREATE TABLE IF NOT EXISTS membership_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		client TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		remote_addr TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		at DATETIME NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_membership_events_client ON membership_events(client)`,
	},
	insert: questionMarkInsert,
	recent: questionMarkRecent,
}

// NewSQLiteStore opens (or creates) an sqlite database at dsn. ":memory:" is
// accepted and kept on a single connection so every query sees the same data.
func NewSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	return newSQLStore(db, sqliteDialect)
}
