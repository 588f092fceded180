package audit

import "fmt"

// Open returns the Store for driver. An empty driver yields Nop.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "":
		return Nop{}, nil
	case "sqlite3", "sqlite":
		return NewSQLiteStore(dsn)
	case "mysql":
		return NewMySQLStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit driver: %s", driver)
	}
}
