// Package dbpool implements the lifecycle-managed connection pool described
// in spec section 4.6: a fixed ceiling of connections, created on demand by
// Fetch and released by callers, with a background monitor that retires
// stale idle connections and tops the pool back up. This generalizes the
// original source's FKDBConnectionPool.cpp (see SPEC_FULL.md section 4) to
// Go, using jmoiron/sqlx the way the rest of the fabric's persistence layer
// does.
package dbpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// dialMaxElapsedTime bounds how long mysqlDialer retries a single new
// connection before giving up, per spec section 4.6's connection-creation
// path.
const dialMaxElapsedTime = 30 * time.Second

// PooledConn is a single pooled connection, checked out via Fetch and
// returned via Release. It has no query methods of its own; callers use
// its DB field, or the Querier in querier.go, to satisfy mapper.Querier.
type PooledConn struct {
	DB *sqlx.DB

	createdAt  time.Time
	lastUsedAt time.Time
	broken     bool
}

// MarkBroken flags the connection for discard on Release instead of
// returning it to the free list. Callers invalidate a connection after any
// driver-level error, per spec section 4.6.
func (c *PooledConn) MarkBroken() { c.broken = true }

// Dialer opens one fresh backing connection. The default dials MySQL via
// go-sql-driver/mysql; tests substitute a fake via WithDialer.
type Dialer func() (*sqlx.DB, error)

// Option configures a Pool at construction time.
type Option func(*config)

type config struct {
	maxSize         int
	fetchTimeout    time.Duration
	connLifetime    time.Duration
	connIdleTime    time.Duration
	monitorInterval time.Duration
	dial            Dialer
	logger          *slog.Logger
}

// WithMaxSize overrides the pool's connection ceiling N. Default 10.
func WithMaxSize(n int) Option { return func(c *config) { c.maxSize = n } }

// WithFetchTimeout overrides how long Fetch waits for a free connection
// when the pool is saturated. 0 means wait forever. Default 0.
func WithFetchTimeout(d time.Duration) Option { return func(c *config) { c.fetchTimeout = d } }

// WithConnLifetime overrides the max age of an idle connection before the
// monitor retires it. Default 1 hour.
func WithConnLifetime(d time.Duration) Option { return func(c *config) { c.connLifetime = d } }

// WithConnIdleTime overrides the max idle duration before the monitor
// retires a free connection. Default 10 minutes.
func WithConnIdleTime(d time.Duration) Option { return func(c *config) { c.connIdleTime = d } }

// WithMonitorInterval overrides the monitor sweep period. Default 5
// minutes, per spec section 4.6.
func WithMonitorInterval(d time.Duration) Option { return func(c *config) { c.monitorInterval = d } }

// WithDialer overrides how the pool opens new backing connections. Tests
// use this to avoid a live MySQL server.
func WithDialer(d Dialer) Option { return func(c *config) { c.dial = d } }

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// Pool is the eager connection pool from spec section 4.6.
type Pool struct {
	cfg config

	mu      sync.Mutex
	free    []*PooledConn
	all     []*PooledConn
	waiters chan struct{} // closed and replaced on every Release/Stop to wake Fetch waiters
	closed  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// mysqlDialer retries the initial connect with exponential backoff: a
// fresh MySQL instance coming up alongside this process (container
// orchestration, compose healthchecks not yet green) would otherwise fail
// the pool's very first Fetch instead of riding out a few seconds of
// "connection refused".
func mysqlDialer(dsn string) Dialer {
	return func() (*sqlx.DB, error) {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = dialMaxElapsedTime

		var db *sqlx.DB
		err := backoff.Retry(func() error {
			conn, err := sqlx.Connect("mysql", dsn)
			if err != nil {
				return err
			}
			db = conn
			return nil
		}, b)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

// New builds a pool backed by dsn (a go-sql-driver/mysql DSN) and starts its
// monitor goroutine. Connections are created lazily on Fetch, up to
// WithMaxSize; New itself never dials.
func New(dsn string, opts ...Option) *Pool {
	cfg := config{
		maxSize:         10,
		connLifetime:    time.Hour,
		connIdleTime:    10 * time.Minute,
		monitorInterval: 5 * time.Minute,
		logger:          slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.dial == nil {
		cfg.dial = mysqlDialer(dsn)
	}

	p := &Pool{
		cfg:     cfg,
		waiters: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}

	p.wg.Add(1)
	go p.runMonitor()

	return p
}

// Fetch returns a connection, creating one if the pool has not yet reached
// its ceiling; otherwise it waits for a Release, honoring ctx cancellation
// and the configured fetch timeout.
func (p *Pool) Fetch(ctx context.Context) (*PooledConn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fkerr.ErrPoolShutdown
		}
		if n := len(p.free); n > 0 {
			c := p.free[n-1]
			p.free = p.free[:n-1]
			p.mu.Unlock()
			return c, nil
		}
		if len(p.all) < p.cfg.maxSize {
			db, err := p.cfg.dial()
			if err != nil {
				p.mu.Unlock()
				return nil, fkerr.ErrCreateConnFailed
			}
			c := &PooledConn{DB: db, createdAt: time.Now(), lastUsedAt: time.Now()}
			p.all = append(p.all, c)
			p.mu.Unlock()
			return c, nil
		}
		wake := p.waiters
		p.mu.Unlock()

		if p.cfg.fetchTimeout == 0 {
			select {
			case <-wake:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			select {
			case <-wake:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.fetchTimeout):
				return nil, fkerr.ErrWaitTimeout
			}
		}
	}
}

// Release returns c to the free list, unless it has been marked broken or
// the pool has been stopped, in which case it is closed and discarded.
func (p *Pool) Release(c *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || c.broken {
		p.removeLocked(c)
		c.DB.Close()
		close(p.waiters)
		p.waiters = make(chan struct{})
		return
	}

	c.lastUsedAt = time.Now()
	p.free = append(p.free, c)
	close(p.waiters)
	p.waiters = make(chan struct{})
}

func (p *Pool) removeLocked(c *PooledConn) {
	for i, x := range p.all {
		if x == c {
			p.all = append(p.all[:i], p.all[i+1:]...)
			break
		}
	}
}

// ExecuteWithConnection scopes a Fetch/Release pair around fn, invalidating
// the connection if fn returns an error.
func (p *Pool) ExecuteWithConnection(ctx context.Context, fn func(*PooledConn) error) error {
	c, err := p.Fetch(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)

	if err := fn(c); err != nil {
		c.MarkBroken()
		return err
	}
	return nil
}

// ExecuteTransaction scopes a Fetch/Release pair around a sqlx transaction,
// committing on success and rolling back (and invalidating the connection)
// on error or panic.
func (p *Pool) ExecuteTransaction(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	c, err := p.Fetch(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)

	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		c.MarkBroken()
		return fkerr.ErrTransactionFailed
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			c.MarkBroken()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		c.MarkBroken()
		return err
	}

	if err := tx.Commit(); err != nil {
		c.MarkBroken()
		return fkerr.ErrTransactionFailed
	}
	return nil
}

func (p *Pool) runMonitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep retires free connections whose age or idle time has exceeded the
// configured limits, pings the survivors, and tops the pool back up to
// maxSize. Checked-out connections are never touched here.
func (p *Pool) sweep() {
	p.mu.Lock()
	now := time.Now()
	kept := p.free[:0]
	var retired int
	for _, c := range p.free {
		stale := now.Sub(c.createdAt) > p.cfg.connLifetime || now.Sub(c.lastUsedAt) > p.cfg.connIdleTime
		if !stale {
			if err := c.DB.Ping(); err == nil {
				kept = append(kept, c)
				continue
			}
		}
		p.removeLocked(c)
		c.DB.Close()
		retired++
	}
	p.free = kept

	var toCreate int
	if deficit := p.cfg.maxSize - len(p.all); deficit > 0 {
		toCreate = deficit
	}
	p.mu.Unlock()

	if retired > 0 {
		p.cfg.logger.Debug("dbpool: retired stale connections", slog.Int("count", retired))
	}

	for i := 0; i < toCreate; i++ {
		db, err := p.cfg.dial()
		if err != nil {
			p.cfg.logger.Warn("dbpool: failed to top up pool", slog.Any("error", err))
			continue
		}
		c := &PooledConn{DB: db, createdAt: time.Now(), lastUsedAt: time.Now()}
		p.mu.Lock()
		p.all = append(p.all, c)
		p.free = append(p.free, c)
		close(p.waiters)
		p.waiters = make(chan struct{})
		p.mu.Unlock()
	}
}

// Stop halts the monitor and closes every idle connection. Connections
// currently checked out are closed as they are Released. Idempotent.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		p.mu.Lock()
		p.closed = true
		for _, c := range p.free {
			c.DB.Close()
		}
		p.free = nil
		close(p.waiters)
		p.waiters = make(chan struct{})
		p.mu.Unlock()
	})
}
