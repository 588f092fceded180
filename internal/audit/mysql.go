package audit

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	schema: []string{`
	CREATE TABLE IF NOT EXISTS membership_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		client VARCHAR(255) NOT NULL DEFAULT '',
		session_id VARCHAR(64) NOT NULL DEFAULT '',
		remote_addr VARCHAR(255) NOT NULL DEFAULT '',
		reason VARCHAR(255) NOT NULL DEFAULT '',
		at DATETIME(6) NOT NULL,
		INDEX idx_membership_events_client (client)
	) CHARACTER SET utf8mb4`,
	},
	insert: questionMarkInsert,
	recent: questionMarkRecent,
}

// NewMySQLStore connects to the MySQL database described by dsn. parseTime is
// forced on so event timestamps scan into time.Time.
func NewMySQLStore(dsn string) (Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	return newSQLStore(db, mysqlDialect)
}
