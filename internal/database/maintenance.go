package database

import "fmt"

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (db *DB) Optimize() error {
	return db.maintain("PRAGMA optimize", "optimize")
}

// Vacuum rebuilds the database file to reclaim space left by deleted books.
func (db *DB) Vacuum() error {
	return db.maintain("VACUUM", "vacuum")
}

// maintain runs stmt on the writer with every transaction excluded.
func (db *DB) maintain(stmt, action string) error {
	if db == nil {
		return ErrNotInitialized
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.writer == nil {
		return ErrNotInitialized
	}
	if _, err := db.writer.Exec(stmt); err != nil {
		return fmt.Errorf("failed to %s database: %w", action, err)
	}
	return nil
}
