// Package demo runs the scripted walkthrough of the book repository.
package demo

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/bookcatalog/internal/books"
	"github.com/saltyorg/bookcatalog/internal/render"
)

// Catalog is the subset of the repository the walkthrough exercises.
type Catalog interface {
	Create(title, author, genre string) books.Result
	ListAll() ([]books.Book, error)
	GetByID(id int64) (*books.Book, error)
	Update(id int64, u books.Update) books.Result
	Delete(book books.Book) books.Result
}

// Seed is a book inserted at the start of the walkthrough.
type Seed struct {
	Title  string
	Author string
	Genre  string
}

// Seeds are the books the walkthrough creates, in order.
var Seeds = []Seed{
	{Title: "The Hobbit", Author: "J,R,R Tolkien", Genre: "Fantasy"},
	{Title: "1984", Author: "George Orwell", Genre: "Dystopian Fiction"},
	{Title: "To Kill a Mockingbird", Author: "Harper Lee", Genre: "Southern Gothic, Bildungsroman"},
}

// Replacement is applied to the first seeded book.
var Replacement = map[string]string{
	"title":  "I am title",
	"author": "I am author",
	"genre":  "I am genre",
}

// Run seeds the catalog, then lists, fetches, updates and deletes the first
// seeded book, writing a table to out after each step.
func Run(c Catalog, out io.Writer) error {
	tbl := render.NewTable(books.Columns...)

	var firstID int64
	for i, s := range Seeds {
		res := c.Create(s.Title, s.Author, s.Genre)
		if !res.OK() {
			return fmt.Errorf("failed to seed %q: %w", s.Title, res.Err)
		}
		if i == 0 {
			firstID = res.ID
		}
	}
	log.Debug().Int("count", len(Seeds)).Int64("first_id", firstID).Msg("Seeded books")

	if err := printAll(c, tbl, out); err != nil {
		return err
	}

	book, err := fetch(c, firstID)
	if err != nil {
		return err
	}
	tbl.AddRow(book.Fields()...)
	if err := flush(tbl, out); err != nil {
		return err
	}

	update, err := books.ParseUpdate(Replacement)
	if err != nil {
		return err
	}
	if res := c.Update(book.ID, update); !res.OK() {
		return fmt.Errorf("failed to update book %d: %w", book.ID, res.Err)
	}
	if err := printAll(c, tbl, out); err != nil {
		return err
	}

	book, err = fetch(c, firstID)
	if err != nil {
		return err
	}
	if res := c.Delete(*book); !res.OK() {
		return fmt.Errorf("failed to delete book %d: %w", book.ID, res.Err)
	}
	return printAll(c, tbl, out)
}

func fetch(c Catalog, id int64) (*books.Book, error) {
	book, err := c.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	if book == nil {
		return nil, fmt.Errorf("book %d not found", id)
	}
	return book, nil
}

func printAll(c Catalog, tbl *render.Table, out io.Writer) error {
	all, err := c.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list books: %w", err)
	}
	for _, b := range all {
		tbl.AddRow(b.Fields()...)
	}
	return flush(tbl, out)
}

func flush(tbl *render.Table, out io.Writer) error {
	defer tbl.ClearRows()
	if _, err := fmt.Fprintln(out, tbl.String()); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}
