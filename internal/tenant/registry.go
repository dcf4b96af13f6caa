// Package tenant implements the lazy per-tenant connection registry:
// one *sql.DB per tenant, opened on first use and cached, with singleflight
// collapsing concurrent first-use misses into a single dial and a
// failure-counting health check that evicts a connection once it has gone
// bad too many times in a row.
package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/singleflight"

	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/cryptoutil"
)

// Conn is a tenant's live connection plus its failure bookkeeping.
type Conn struct {
	TenantCode string
	DB         *sql.DB

	mu       sync.Mutex
	failures int
}

func (c *Conn) recordFailure() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	return c.failures
}

func (c *Conn) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

// Registry resolves tenant codes to live *sql.DB connections, dialing lazily
// and caching the result. Concurrent misses for the same tenant collapse
// into a single dial via singleflight.
type Registry struct {
	store  *central.Store
	cipher *cryptoutil.Cipher
	cfg    config.TenantConnConfig

	mu    sync.RWMutex
	conns map[string]*Conn

	group singleflight.Group
}

// NewRegistry builds a Registry backed by the central store for connection
// source lookup and cfg for pool/timeout defaults.
func NewRegistry(store *central.Store, cipher *cryptoutil.Cipher, cfg config.TenantConnConfig) *Registry {
	return &Registry{
		store:  store,
		cipher: cipher,
		cfg:    cfg,
		conns:  make(map[string]*Conn),
	}
}

// Resolve returns the live connection for tenantCode, dialing it on first
// use. A tenant with no active connection source, or whose source fails to
// open, returns an error from the central connection-source lookup path.
func (r *Registry) Resolve(ctx context.Context, tenantCode string) (*Conn, error) {
	r.mu.RLock()
	conn, ok := r.conns[tenantCode]
	r.mu.RUnlock()
	if ok {
		return conn, nil
	}

	v, err, _ := r.group.Do(tenantCode, func() (interface{}, error) {
		r.mu.RLock()
		if c, ok := r.conns[tenantCode]; ok {
			r.mu.RUnlock()
			return c, nil
		}
		r.mu.RUnlock()

		c, err := r.dial(ctx, tenantCode)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.conns[tenantCode] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

func (r *Registry) dial(ctx context.Context, tenantCode string) (*Conn, error) {
	src, err := r.store.GetConnectionSource(ctx, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("tenant: load connection source for %s: %w", tenantCode, err)
	}
	if src == nil || !src.Active {
		return nil, fmt.Errorf("tenant: %s has no active connection source", tenantCode)
	}

	dsn, err := src.Decrypted(r.cipher)
	if err != nil {
		return nil, fmt.Errorf("tenant: decrypt connection string for %s: %w", tenantCode, err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tenant: open connection for %s: %w", tenantCode, err)
	}

	db.SetMaxOpenConns(r.cfg.PoolSize)
	db.SetMaxIdleConns(r.cfg.PoolSize)
	db.SetConnMaxLifetime(time.Duration(r.cfg.SocketTimeoutSec) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.ServerSelectionTimeoutSec)*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("tenant: ping connection for %s: %w", tenantCode, err)
	}

	return &Conn{TenantCode: tenantCode, DB: db}, nil
}

// ReportFailure records an operational failure against tenantCode's
// connection and evicts it once EvictAfterFailures consecutive failures have
// been seen, forcing the next Resolve to redial.
func (r *Registry) ReportFailure(tenantCode string) {
	r.mu.RLock()
	conn, ok := r.conns[tenantCode]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if conn.recordFailure() >= r.cfg.EvictAfterFailures {
		r.Evict(tenantCode)
	}
}

// ReportSuccess resets a tenant connection's failure count.
func (r *Registry) ReportSuccess(tenantCode string) {
	r.mu.RLock()
	conn, ok := r.conns[tenantCode]
	r.mu.RUnlock()
	if ok {
		conn.recordSuccess()
	}
}

// Evict closes and drops a tenant's cached connection, forcing the next
// Resolve to dial fresh.
func (r *Registry) Evict(tenantCode string) {
	r.mu.Lock()
	conn, ok := r.conns[tenantCode]
	if ok {
		delete(r.conns, tenantCode)
	}
	r.mu.Unlock()
	if ok {
		conn.DB.Close()
	}
}

// Close closes every cached connection. Used on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, conn := range r.conns {
		conn.DB.Close()
		delete(r.conns, code)
	}
}
