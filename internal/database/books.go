package database

import (
	"database/sql"
	"fmt"
	"strings"
)

const schemaBooks = `
	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		genre TEXT NOT NULL
	)
`

// BookRecord represents a row of the books table.
type BookRecord struct {
	ID     int64
	Title  string
	Author string
	Genre  string
}

// BookPatch holds the columns to change in an update; nil fields are left alone.
type BookPatch struct {
	Title  *string
	Author *string
	Genre  *string
}

// IsEmpty reports whether the patch changes nothing.
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.Genre == nil
}

func (p BookPatch) assignments() ([]string, []any) {
	var sets []string
	var args []any
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Author != nil {
		sets = append(sets, "author = ?")
		args = append(args, *p.Author)
	}
	if p.Genre != nil {
		sets = append(sets, "genre = ?")
		args = append(args, *p.Genre)
	}
	return sets, args
}

// CreateBook inserts a new book and returns it with the assigned id.
func (db *DB) CreateBook(title, author, genre string) (*BookRecord, error) {
	var record *BookRecord
	err := db.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO books (title, author, genre)
			VALUES (?, ?, ?)
		`, title, author, genre)
		if err != nil {
			return fmt.Errorf("failed to create book: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get book id: %w", err)
		}

		record = &BookRecord{ID: id, Title: title, Author: author, Genre: genre}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListBooks returns every stored book ordered by id.
func (db *DB) ListBooks() ([]BookRecord, error) {
	books := []BookRecord{}
	err := db.ReadTransaction(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT id, title, author, genre FROM books ORDER BY id")
		if err != nil {
			return fmt.Errorf("failed to list books: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var b BookRecord
			if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Genre); err != nil {
				return fmt.Errorf("failed to scan book: %w", err)
			}
			books = append(books, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// GetBook retrieves a book by id. It returns nil without error when no row matches.
func (db *DB) GetBook(id int64) (*BookRecord, error) {
	var found []BookRecord
	err := db.ReadTransaction(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT id, title, author, genre FROM books WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to get book: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var b BookRecord
			if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Genre); err != nil {
				return fmt.Errorf("failed to scan book: %w", err)
			}
			found = append(found, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("failed to get book %d: %w", id, ErrMultipleRows)
	}
}

// UpdateBook applies the patch to the book with the given id and returns the
// number of rows changed.
func (db *DB) UpdateBook(id int64, patch BookPatch) (int64, error) {
	sets, args := patch.assignments()
	if len(sets) == 0 {
		return 0, fmt.Errorf("failed to update book %d: no fields to update", id)
	}
	args = append(args, id)

	var affected int64
	err := db.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec("UPDATE books SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return fmt.Errorf("failed to update book: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		return nil
	})
	return affected, err
}

// DeleteBook removes a book by id and returns the number of rows removed.
func (db *DB) DeleteBook(id int64) (int64, error) {
	var affected int64
	err := db.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec("DELETE FROM books WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		return nil
	})
	return affected, err
}

// CountBooks returns the number of stored books.
func (db *DB) CountBooks() (int, error) {
	var count int
	err := db.ReadTransaction(func(tx *sql.Tx) error {
		if err := tx.QueryRow("SELECT COUNT(*) FROM books").Scan(&count); err != nil {
			return fmt.Errorf("failed to count books: %w", err)
		}
		return nil
	})
	return count, err
}
