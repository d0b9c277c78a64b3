package books

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/bookcatalog/internal/config"
	"github.com/saltyorg/bookcatalog/internal/database"
)

// DefaultMaxConcurrency is how many operations may hold a transaction at once.
const DefaultMaxConcurrency = 50

// Repository is the book catalog over a single SQLite file. Every operation
// runs in its own transaction on a slot of a fixed-size worker pool; callers
// beyond the pool size block until a slot frees.
type Repository struct {
	path            string
	maxConcurrency  int
	busyTimeout     time.Duration
	shutdownTimeout time.Duration
	vacuumOnClose   bool

	mu     sync.RWMutex
	db     *database.DB
	pool   *ants.Pool
	closed bool
}

// Option configures a Repository.
type Option func(*Repository)

// WithMaxConcurrency sets the admission bound. Values below 1 become 1.
func WithMaxConcurrency(n int) Option {
	return func(r *Repository) {
		if n < 1 {
			n = 1
		}
		r.maxConcurrency = n
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.busyTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for in-flight operations.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.shutdownTimeout = d
		}
	}
}

// WithVacuumOnShutdown rebuilds the database file during Shutdown to reclaim
// space left by deleted books.
func WithVacuumOnShutdown(enabled bool) Option {
	return func(r *Repository) {
		r.vacuumOnClose = enabled
	}
}

// New creates a repository for the database file at path. Nothing is opened
// until Initialize.
func New(path string, opts ...Option) *Repository {
	timeouts := config.GetTimeouts()
	r := &Repository{
		path:            path,
		maxConcurrency:  DefaultMaxConcurrency,
		busyTimeout:     timeouts.BusyTimeout,
		shutdownTimeout: timeouts.ShutdownDrain,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxConcurrency returns the admission bound.
func (r *Repository) MaxConcurrency() int {
	return r.maxConcurrency
}

// Initialize opens the database and ensures the books table exists. Calling
// it again on an open repository only re-checks the schema.
func (r *Repository) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if r.db != nil {
		if err := r.db.EnsureSchema(); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
		return nil
	}

	db, err := database.New(r.path,
		database.WithBusyTimeout(r.busyTimeout),
		database.WithMaxOpenConns(r.maxConcurrency),
	)
	if err != nil {
		return err
	}

	if err := db.EnsureSchema(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	poolLogger := log.With().Str("component", "books-pool").Logger()
	pool, err := ants.NewPool(r.maxConcurrency, ants.WithLogger(&poolLogger))
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	r.db = db
	r.pool = pool

	log.Info().
		Str("path", r.path).
		Int("max_concurrency", r.maxConcurrency).
		Msg("Book repository initialized")

	return nil
}

// Shutdown stops accepting operations, waits for in-flight ones, and closes
// the database. Later calls return ErrClosed from every operation.
func (r *Repository) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	db, pool := r.db, r.pool
	r.db, r.pool = nil, nil
	r.mu.Unlock()

	if db == nil {
		return nil
	}

	if err := pool.ReleaseTimeout(r.shutdownTimeout); err != nil {
		log.Warn().Err(err).Dur("timeout", r.shutdownTimeout).Msg("Operations still running at shutdown")
	}

	if err := db.Optimize(); err != nil {
		log.Warn().Err(err).Msg("Failed to optimize database before close")
	}

	if r.vacuumOnClose {
		if err := db.Vacuum(); err != nil {
			log.Warn().Err(err).Msg("Failed to vacuum database before close")
		} else {
			log.Debug().Str("path", r.path).Msg("Database vacuumed")
		}
	}

	if err := db.Close(); err != nil {
		return err
	}

	log.Info().Str("path", r.path).Msg("Book repository shut down")
	return nil
}

// do runs fn on a pool slot and waits for its result.
func (r *Repository) do(op string, fn func(db *database.DB) error) error {
	r.mu.RLock()
	db, pool, closed := r.db, r.pool, r.closed
	r.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if db == nil {
		return ErrNotInitialized
	}

	done := make(chan error, 1)
	err := pool.Submit(func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("%s panicked: %v", op, rec)
			}
		}()
		done <- fn(db)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", op, err)
	}

	if err := <-done; err != nil {
		if errors.Is(err, database.ErrNotInitialized) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Create inserts a book. The assigned id is returned in Result.ID.
func (r *Repository) Create(title, author, genre string) Result {
	var record *database.BookRecord
	err := r.do("create", func(db *database.DB) error {
		var err error
		record, err = db.CreateBook(title, author, genre)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("title", title).Msg("Failed to create book")
		return Result{Err: err}
	}

	log.Debug().Int64("id", record.ID).Str("title", title).Msg("Book created")
	return Result{ID: record.ID, Affected: 1}
}

// ListAll returns every stored book.
func (r *Repository) ListAll() ([]Book, error) {
	var records []database.BookRecord
	err := r.do("list", func(db *database.DB) error {
		var err error
		records, err = db.ListBooks()
		return err
	})
	if err != nil {
		return nil, err
	}

	books := make([]Book, 0, len(records))
	for _, rec := range records {
		books = append(books, fromRecord(rec))
	}
	return books, nil
}

// GetByID returns the book with the given id, or nil if there is none.
func (r *Repository) GetByID(id int64) (*Book, error) {
	var record *database.BookRecord
	err := r.do("get", func(db *database.DB) error {
		var err error
		record, err = db.GetBook(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	book := fromRecord(*record)
	return &book, nil
}

// Update changes the fields set in u on the book with the given id. Updating
// an id that does not exist succeeds with Affected == 0.
func (r *Repository) Update(id int64, u Update) Result {
	if u.IsEmpty() {
		return Result{ID: id, Err: ErrEmptyUpdate}
	}

	var affected int64
	err := r.do("update", func(db *database.DB) error {
		var err error
		affected, err = db.UpdateBook(id, u.patch())
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("Failed to update book")
		return Result{ID: id, Err: err}
	}

	log.Debug().Int64("id", id).Int64("affected", affected).Msg("Book updated")
	return Result{ID: id, Affected: affected}
}

// Delete removes a previously fetched book. Deleting a book that is already
// gone succeeds with Affected == 0.
func (r *Repository) Delete(book Book) Result {
	var affected int64
	err := r.do("delete", func(db *database.DB) error {
		var err error
		affected, err = db.DeleteBook(book.ID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("id", book.ID).Msg("Failed to delete book")
		return Result{ID: book.ID, Err: err}
	}

	log.Debug().Int64("id", book.ID).Int64("affected", affected).Msg("Book deleted")
	return Result{ID: book.ID, Affected: affected}
}

// Count returns the number of stored books.
func (r *Repository) Count() (int, error) {
	var count int
	err := r.do("count", func(db *database.DB) error {
		var err error
		count, err = db.CountBooks()
		return err
	})
	return count, err
}
