package books

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyorg/bookcatalog/internal/database"
)

func newTestRepository(t *testing.T, opts ...Option) *Repository {
	t.Helper()

	repo := New(filepath.Join(t.TempDir(), "books.db"), opts...)
	require.NoError(t, repo.Initialize())
	t.Cleanup(func() { _ = repo.Shutdown() })
	return repo
}

func strPtr(s string) *string { return &s }

func seedScenario(t *testing.T, repo *Repository) []int64 {
	t.Helper()

	seeds := [][3]string{
		{"The Hobbit", "J,R,R Tolkien", "Fantasy"},
		{"1984", "George Orwell", "Dystopian Fiction"},
		{"To Kill a Mockingbird", "Harper Lee", "Southern Gothic, Bildungsroman"},
	}
	ids := make([]int64, 0, len(seeds))
	for _, s := range seeds {
		res := repo.Create(s[0], s[1], s[2])
		require.True(t, res.OK(), "create %q: %v", s[0], res.Err)
		ids = append(ids, res.ID)
	}
	return ids
}

func TestCreate_ThenList(t *testing.T) {
	repo := newTestRepository(t)

	res := repo.Create("The Hobbit", "J,R,R Tolkien", "Fantasy")
	require.True(t, res.OK())
	assert.Equal(t, int64(1), res.ID)
	assert.Equal(t, int64(1), res.Affected)

	books, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, Book{ID: res.ID, Title: "The Hobbit", Author: "J,R,R Tolkien", Genre: "Fantasy"}, books[0])
}

func TestScenario(t *testing.T) {
	repo := newTestRepository(t)

	ids := seedScenario(t, repo)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	books, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, books, 3)
	for i, b := range books {
		assert.Equal(t, ids[i], b.ID)
	}

	hobbit, err := repo.GetByID(1)
	require.NoError(t, err)
	require.NotNil(t, hobbit)
	assert.Equal(t, "The Hobbit", hobbit.Title)

	update, err := ParseUpdate(map[string]string{
		"title":  "I am title",
		"author": "I am author",
		"genre":  "I am genre",
	})
	require.NoError(t, err)
	res := repo.Update(hobbit.ID, update)
	require.True(t, res.OK())
	assert.Equal(t, int64(1), res.Affected)

	books, err = repo.ListAll()
	require.NoError(t, err)
	assert.Equal(t, Book{ID: 1, Title: "I am title", Author: "I am author", Genre: "I am genre"}, books[0])

	toDelete, err := repo.GetByID(1)
	require.NoError(t, err)
	require.NotNil(t, toDelete)
	require.True(t, repo.Delete(*toDelete).OK())

	books, err = repo.ListAll()
	require.NoError(t, err)
	require.Len(t, books, 2)
	for _, b := range books {
		assert.NotEqual(t, int64(1), b.ID)
	}
}

func TestUpdate_Partial(t *testing.T) {
	repo := newTestRepository(t)
	ids := seedScenario(t, repo)

	res := repo.Update(ids[1], Update{Title: strPtr("X")})
	require.True(t, res.OK())

	book, err := repo.GetByID(ids[1])
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, "X", book.Title)
	assert.Equal(t, "George Orwell", book.Author)
	assert.Equal(t, "Dystopian Fiction", book.Genre)
}

func TestUpdate_Empty(t *testing.T) {
	repo := newTestRepository(t)
	ids := seedScenario(t, repo)

	res := repo.Update(ids[0], Update{})
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrEmptyUpdate)
}

func TestUpdate_MissingIDIsNoop(t *testing.T) {
	repo := newTestRepository(t)

	res := repo.Update(404, Update{Genre: strPtr("Horror")})
	assert.True(t, res.OK())
	assert.Equal(t, int64(0), res.Affected)
}

func TestDelete_RemovesExactlyOne(t *testing.T) {
	repo := newTestRepository(t)
	ids := seedScenario(t, repo)

	before, err := repo.Count()
	require.NoError(t, err)

	book, err := repo.GetByID(ids[2])
	require.NoError(t, err)
	require.NotNil(t, book)

	res := repo.Delete(*book)
	require.True(t, res.OK())
	assert.Equal(t, int64(1), res.Affected)

	after, err := repo.ListAll()
	require.NoError(t, err)
	assert.Len(t, after, before-1)
	for _, b := range after {
		assert.NotEqual(t, ids[2], b.ID)
	}

	again := repo.Delete(*book)
	assert.True(t, again.OK())
	assert.Equal(t, int64(0), again.Affected)
}

func TestGetByID_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	book, err := repo.GetByID(12345)
	assert.NoError(t, err)
	assert.Nil(t, book)
}

func TestInitialize_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.db")

	repo := New(path)
	require.NoError(t, repo.Initialize())
	seedScenario(t, repo)
	require.NoError(t, repo.Initialize())

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, repo.Shutdown())

	reopened := New(path)
	require.NoError(t, reopened.Initialize())
	defer reopened.Shutdown()

	count, err = reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUninitializedUse(t *testing.T) {
	repo := New(filepath.Join(t.TempDir(), "books.db"))

	_, err := repo.ListAll()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = repo.GetByID(1)
	assert.ErrorIs(t, err, ErrNotInitialized)

	res := repo.Create("a", "b", "c")
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrNotInitialized)

	assert.ErrorIs(t, repo.Delete(Book{ID: 1}).Err, ErrNotInitialized)
	assert.NoError(t, repo.Shutdown())
}

func TestShutdown_RejectsLaterOperations(t *testing.T) {
	repo := New(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, repo.Initialize())
	seedScenario(t, repo)

	require.NoError(t, repo.Shutdown())
	require.NoError(t, repo.Shutdown())

	_, err := repo.ListAll()
	assert.ErrorIs(t, err, ErrClosed)

	res := repo.Update(1, Update{Title: strPtr("late")})
	assert.ErrorIs(t, res.Err, ErrClosed)

	_, err = repo.Count()
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, repo.Initialize(), ErrClosed)
}

func TestAdmission_ExcessCallersComplete(t *testing.T) {
	repo := newTestRepository(t, WithMaxConcurrency(4))

	const callers = 40
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = repo.Create("Book", "Author", "Genre")
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, callers)
	for _, res := range results {
		require.True(t, res.OK(), "create failed: %v", res.Err)
		assert.False(t, seen[res.ID], "duplicate id %d", res.ID)
		seen[res.ID] = true
	}

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, callers, count)
}

func TestAdmission_BoundsInFlightOperations(t *testing.T) {
	const bound = 3
	repo := newTestRepository(t, WithMaxConcurrency(bound))

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.do("probe", func(db *database.DB) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(bound))
	assert.Positive(t, peak.Load())
}

func TestDo_RecoversPanics(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.do("explode", func(*database.DB) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode panicked")

	// The slot is usable afterwards.
	assert.True(t, repo.Create("a", "b", "c").OK())
}

func TestDo_PanicInsideTransactionKeepsStoreWritable(t *testing.T) {
	repo := newTestRepository(t, WithBusyTimeout(500*time.Millisecond))

	err := repo.do("explode", func(db *database.DB) error {
		return db.Transaction(func(*sql.Tx) error {
			panic("boom")
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode panicked")

	res := repo.Create("a", "b", "c")
	require.True(t, res.OK(), "create after panic: %v", res.Err)
}

func TestShutdown_Vacuum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.db")
	repo := New(path, WithVacuumOnShutdown(true))
	require.NoError(t, repo.Initialize())

	ids := seedScenario(t, repo)
	for _, id := range ids {
		require.True(t, repo.Delete(Book{ID: id}).OK())
	}
	require.NoError(t, repo.Shutdown())

	_, err := os.Stat(path)
	require.NoError(t, err)

	reopened := New(path)
	require.NoError(t, reopened.Initialize())
	defer reopened.Shutdown()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDo_PropagatesErrors(t *testing.T) {
	repo := newTestRepository(t)

	boom := errors.New("boom")
	err := repo.do("fail", func(*database.DB) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWithMaxConcurrency_Floor(t *testing.T) {
	repo := New("unused.db", WithMaxConcurrency(0))
	assert.Equal(t, 1, repo.MaxConcurrency())
	assert.Equal(t, DefaultMaxConcurrency, New("unused.db").MaxConcurrency())
}

func TestParseUpdate(t *testing.T) {
	t.Run("known fields", func(t *testing.T) {
		u, err := ParseUpdate(map[string]string{"Title": "T", "genre": "G"})
		require.NoError(t, err)
		require.NotNil(t, u.Title)
		require.NotNil(t, u.Genre)
		assert.Equal(t, "T", *u.Title)
		assert.Equal(t, "G", *u.Genre)
		assert.Nil(t, u.Author)
	})

	t.Run("id is immutable", func(t *testing.T) {
		_, err := ParseUpdate(map[string]string{"id": "7"})
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	t.Run("unknown fields", func(t *testing.T) {
		_, err := ParseUpdate(map[string]string{"title": "T", "isbn": "x", "pages": "3"})
		assert.ErrorIs(t, err, ErrUnknownField)
		assert.Contains(t, err.Error(), "isbn, pages")
	})

	t.Run("case-folded collision", func(t *testing.T) {
		for range 20 {
			_, err := ParseUpdate(map[string]string{"Title": "A", "title": "B"})
			require.ErrorIs(t, err, ErrDuplicateField)
		}
	})

	t.Run("id wins over unknown fields", func(t *testing.T) {
		for range 20 {
			_, err := ParseUpdate(map[string]string{"id": "1", "isbn": "x"})
			require.ErrorIs(t, err, ErrImmutableField)
		}
	})

	t.Run("empty", func(t *testing.T) {
		u, err := ParseUpdate(nil)
		require.NoError(t, err)
		assert.True(t, u.IsEmpty())
	})
}

func TestBookFields(t *testing.T) {
	b := Book{ID: 2, Title: "1984", Author: "George Orwell", Genre: "Dystopian Fiction"}
	assert.Equal(t, []any{int64(2), "1984", "George Orwell", "Dystopian Fiction"}, b.Fields())
	assert.Len(t, Columns, len(b.Fields()))
}
