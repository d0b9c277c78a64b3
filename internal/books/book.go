package books

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/saltyorg/bookcatalog/internal/database"
)

var (
	// ErrNotInitialized is returned when an operation runs before Initialize.
	ErrNotInitialized = errors.New("repository not initialized")

	// ErrClosed is returned when an operation runs after Shutdown.
	ErrClosed = errors.New("repository is closed")

	// ErrMultipleRows is returned when a lookup by id matches more than one book.
	ErrMultipleRows = database.ErrMultipleRows

	// ErrEmptyUpdate is returned when an update names no fields.
	ErrEmptyUpdate = errors.New("update has no fields")

	// ErrUnknownField is returned when an update names a field books do not have.
	ErrUnknownField = errors.New("unknown book field")

	// ErrDuplicateField is returned when an update names a field twice.
	ErrDuplicateField = errors.New("duplicate book field")

	// ErrImmutableField is returned when an update tries to change the id.
	ErrImmutableField = errors.New("book field is immutable")
)

// Book is the single catalog entity.
type Book struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Genre  string `json:"genre"`
}

// Fields returns the book's values in column order: id, title, author, genre.
func (b Book) Fields() []any {
	return []any{b.ID, b.Title, b.Author, b.Genre}
}

// Columns is the header matching Book.Fields.
var Columns = []string{"id", "title", "author", "genre"}

func fromRecord(r database.BookRecord) Book {
	return Book{ID: r.ID, Title: r.Title, Author: r.Author, Genre: r.Genre}
}

// Update is a partial update; nil fields keep their stored value.
type Update struct {
	Title  *string
	Author *string
	Genre  *string
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.Title == nil && u.Author == nil && u.Genre == nil
}

func (u Update) patch() database.BookPatch {
	return database.BookPatch{Title: u.Title, Author: u.Author, Genre: u.Genre}
}

// ParseUpdate builds an Update from field names to new values. Names are
// case-insensitive; only title, author and genre are accepted. Problems are
// reported in a fixed order whatever the map order: names that collide once
// case is folded, then id (immutable), then unknown names.
func ParseUpdate(fields map[string]string) (Update, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	byField := make(map[string]string, len(names))
	var duplicate, unknown []string
	immutable := false

	for _, name := range names {
		key := strings.ToLower(name)
		if _, seen := byField[key]; seen {
			duplicate = append(duplicate, key)
			continue
		}
		byField[key] = fields[name]

		switch key {
		case "title", "author", "genre":
		case "id":
			immutable = true
		default:
			unknown = append(unknown, name)
		}
	}

	switch {
	case len(duplicate) > 0:
		return Update{}, fmt.Errorf("%w: %s", ErrDuplicateField, strings.Join(duplicate, ", "))
	case immutable:
		return Update{}, fmt.Errorf("%w: id", ErrImmutableField)
	case len(unknown) > 0:
		return Update{}, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(unknown, ", "))
	}

	var u Update
	if v, ok := byField["title"]; ok {
		u.Title = &v
	}
	if v, ok := byField["author"]; ok {
		u.Author = &v
	}
	if v, ok := byField["genre"]; ok {
		u.Genre = &v
	}
	return u, nil
}

// Result reports the outcome of a write. Err carries the cause when the
// write failed and was rolled back.
type Result struct {
	// ID is the assigned id for Create and the target id for Update and Delete.
	ID int64
	// Affected is the number of rows changed by Update or Delete.
	Affected int64
	Err      error
}

// OK reports whether the write succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}
