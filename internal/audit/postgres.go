package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	schema: []string{`
	CREATE TABLE IF NOT EXISTS membership_events (
		id BIGSERIAL PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		client VARCHAR(255) NOT NULL DEFAULT '',
		session_id VARCHAR(64) NOT NULL DEFAULT '',
		remote_addr VARCHAR(255) NOT NULL DEFAULT '',
		reason VARCHAR(255) NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_membership_events_client ON membership_events(client)`,
	},
	insert: `
		INSERT INTO membership_events (kind, client, session_id, remote_addr, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
	recent: `
		SELECT id, kind, client, session_id, remote_addr, reason, at
		FROM membership_events ORDER BY id DESC LIMIT $1`,
}

// NewPostgresStore connects to the PostgreSQL database described by dsn, a
// URL or key=value connection string.
func NewPostgresStore(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return newSQLStore(db, postgresDialect)
}
