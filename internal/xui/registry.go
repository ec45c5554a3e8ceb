package xui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openxui/panelsync/internal/metrics"
)

// Credentials locate one tenant's XUI MySQL database.
type Credentials struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// DSN renders the go-sql-driver connection string.
func (c Credentials) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Timeout = 10 * time.Second
	cfg.ReadTimeout = 2 * time.Minute
	cfg.WriteTimeout = 2 * time.Minute
	return cfg.FormatDSN()
}

// PoolConfig bounds each remote engine's connection pool. Remote
// panels are small shared MySQL servers; keep the footprint low.
type PoolConfig struct {
	ConnMaxLifetime time.Duration
	MaxIdleConns    int
	MaxOpenConns    int
}

type engine struct {
	db  *sqlx.DB
	dsn string
}

// Registry caches one database engine per (tenant, panel user) pair.
// Credentials changes replace the cached engine; the old pool is
// closed so stale passwords don't linger.
type Registry struct {
	mu      sync.Mutex
	engines *xsync.MapOf[string, *engine]
	pool    PoolConfig
	log     *slog.Logger
}

func NewRegistry(pool PoolConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		engines: xsync.NewMapOf[string, *engine](),
		pool:    pool,
		log:     logger,
	}
}

func registryKey(tenantID, userID int64) string {
	return fmt.Sprintf("%d:%d", tenantID, userID)
}

func connFailureClass(err error) string {
	switch {
	case IsAccessDenied(err):
		return "access_denied"
	case IsSSLMisconfiguration(err):
		return "ssl"
	default:
		return "other"
	}
}

// Get returns a pooled engine for the pair, building and validating a
// new one when none is cached or the credentials changed. Connection
// failures come back as the typed errors from this package.
func (r *Registry) Get(ctx context.Context, tenantID, userID int64, creds Credentials) (*sqlx.DB, error) {
	key := registryKey(tenantID, userID)
	dsn := creds.DSN()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.engines.Load(key); ok {
		if cached.dsn == dsn {
			return cached.db, nil
		}
		r.log.Debug("credentials changed, replacing engine", "key", key, "host", creds.Host)
		cached.db.Close()
		r.engines.Delete(key)
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, ClassifyConnError(err, creds.Host, creds.User, creds.Database)
	}
	db.SetConnMaxLifetime(r.pool.ConnMaxLifetime)
	db.SetMaxIdleConns(r.pool.MaxIdleConns)
	db.SetMaxOpenConns(r.pool.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		r.log.Warn("remote panel connection failed", "key", key, "host", creds.Host, "error", err)
		classified := ClassifyConnError(err, creds.Host, creds.User, creds.Database)
		metrics.PanelConnectFailures.WithLabelValues(connFailureClass(classified)).Inc()
		return nil, classified
	}

	r.engines.Store(key, &engine{db: db, dsn: dsn})
	metrics.PanelConnections.Set(float64(r.engines.Size()))
	r.log.Debug("remote panel engine ready", "key", key, "host", creds.Host)
	return db, nil
}

// Dispose drops and closes the cached engine for the pair, if any.
func (r *Registry) Dispose(tenantID, userID int64) {
	key := registryKey(tenantID, userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.engines.Load(key); ok {
		cached.db.Close()
		r.engines.Delete(key)
		metrics.PanelConnections.Set(float64(r.engines.Size()))
	}
}

// Close shuts down every cached engine.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines.Range(func(key string, e *engine) bool {
		e.db.Close()
		r.engines.Delete(key)
		return true
	})
	metrics.PanelConnections.Set(0)
}
