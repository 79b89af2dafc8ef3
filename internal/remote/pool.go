package remote

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"pharmsync/internal/models"

	_ "github.com/alexbrainman/odbc" // odbc driver
	_ "github.com/mattn/go-sqlite3"  // sqlite3 driver
	"github.com/rs/zerolog"
)

type pooled struct {
	db     *sql.DB
	server string
	driver string
}

// Pool keeps one connection pool per backend, sized from the backend's
// pool settings.
type Pool struct {
	mu     sync.Mutex
	pools  map[int64]*pooled
	logger *zerolog.Logger
}

func NewPool(logger *zerolog.Logger) *Pool {
	l := logger.With().Str("component", "remote_pool").Logger()
	return &Pool{pools: make(map[int64]*pooled), logger: &l}
}

// Get returns the pool for a backend, reopening it when the connection
// settings changed.
func (p *Pool) Get(backend *models.Backend) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.pools[backend.ID]; ok {
		if existing.server == backend.Server && existing.driver == backend.Driver {
			return existing.db, nil
		}
		existing.db.Close()
		delete(p.pools, backend.ID)
	}

	db, err := sql.Open(backend.Driver, dsn(backend))
	if err != nil {
		return nil, fmt.Errorf("open remote %s: %w", backend.Name, err)
	}
	db.SetMaxIdleConns(backend.PoolSize)
	db.SetMaxOpenConns(backend.PoolSize + backend.MaxOverflow)

	p.pools[backend.ID] = &pooled{db: db, server: backend.Server, driver: backend.Driver}
	p.logger.Info().
		Str("backend", backend.Name).
		Str("driver", backend.Driver).
		Int("pool_size", backend.PoolSize).
		Int("max_overflow", backend.MaxOverflow).
		Msg("remote pool opened")
	return db, nil
}

// acquire reserves a connection from the backend's pool. PoolTimeout bounds
// only the wait for a free connection; queries on the returned conn run
// under the caller's context.
func (p *Pool) acquire(ctx context.Context, backend *models.Backend) (*sql.Conn, error) {
	db, err := p.Get(backend)
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := withPoolTimeout(ctx, backend)
	defer cancel()
	conn, err := db.Conn(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for %s: %w", backend.Name, err)
	}
	return conn, nil
}

// Ping checks that the backend's remote database answers.
func (p *Pool) Ping(ctx context.Context, backend *models.Backend) error {
	conn, err := p.acquire(ctx, backend)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.PingContext(ctx)
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for id, pool := range p.pools {
		if err := pool.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.pools, id)
	}
	return firstErr
}

func dsn(backend *models.Backend) string {
	if backend.Driver == models.DriverODBC {
		return fmt.Sprintf("%s;UID=%s;PWD=%s", backend.Server, backend.Username, backend.Password)
	}
	return backend.Server
}

func withPoolTimeout(ctx context.Context, backend *models.Backend) (context.Context, context.CancelFunc) {
	if backend.PoolTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, backend.PoolTimeout)
}
