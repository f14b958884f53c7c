package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool caches at most one live Connection per relay URL. It is a pure
// resource cache: connect failures are counted, never retried internally,
// and staleness is reaped only when a caller invokes CleanupStale.
type Pool struct {
	connectTimeout time.Duration
	logger         *zap.Logger
	clock          func() time.Time

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	mu             sync.Mutex
	conn           *Connection
	failedAttempts int
	lastConnected  time.Time
}

// PoolConfig carries construction options for NewPool.
type PoolConfig struct {
	ConnectTimeout time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// RelayStats describes one relay's pool bookkeeping.
type RelayStats struct {
	URL            string        `json:"url"`
	Connected      bool          `json:"connected"`
	FailedAttempts int           `json:"failed_attempts"`
	LastConnected  time.Time     `json:"last_connected"`
	Age            time.Duration `json:"age"`
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	ActiveConnections int          `json:"active_connections"`
	Relays            []RelayStats `json:"relays"`
}

// NewPool builds an empty connection pool.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Pool{
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger,
		clock:          clock,
		entries:        make(map[string]*poolEntry),
	}
}

// Get returns the cached live connection for url, dialing a fresh one when
// the slot is empty or dead. A dial failure increments the relay's failure
// counter and surfaces as a ConnectionError; retry scheduling belongs to
// the caller.
func (p *Pool) Get(ctx context.Context, url string) (*Connection, error) {
	entry := p.entry(url)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.conn != nil && entry.conn.Connected() {
		return entry.conn, nil
	}

	conn := NewConnection(ConnectionConfig{
		URL:            url,
		ConnectTimeout: p.connectTimeout,
		Logger:         p.logger,
		Clock:          p.clock,
	})
	if err := conn.Connect(ctx); err != nil {
		entry.failedAttempts++
		p.logger.Warn("relay connect failed",
			zap.String("url", url),
			zap.Int("failed_attempts", entry.failedAttempts),
			zap.Error(err))
		return nil, err
	}

	entry.conn = conn
	entry.failedAttempts = 0
	entry.lastConnected = p.clock()
	return conn, nil
}

// CleanupStale closes and removes connections whose last traffic is older
// than maxAge, along with entries whose connection has already died. It
// returns the number of connections removed and is meant to be driven by
// an external periodic task.
func (p *Pool) CleanupStale(maxAge time.Duration) int {
	now := p.clock()

	p.mu.Lock()
	urls := make([]string, 0, len(p.entries))
	for url := range p.entries {
		urls = append(urls, url)
	}
	p.mu.Unlock()

	removed := 0
	for _, url := range urls {
		entry := p.entry(url)
		entry.mu.Lock()
		conn := entry.conn
		if conn == nil {
			entry.mu.Unlock()
			continue
		}
		stale := now.Sub(conn.LastActive()) > maxAge
		dead := !conn.Connected()
		if stale || dead {
			conn.Close()
			entry.conn = nil
			removed++
			p.logger.Debug("stale relay connection removed",
				zap.String("url", url),
				zap.Bool("dead", dead))
		}
		entry.mu.Unlock()
	}
	return removed
}

// Stats snapshots per-relay counters and the live connection count.
func (p *Pool) Stats() PoolStats {
	now := p.clock()

	p.mu.Lock()
	urls := make([]string, 0, len(p.entries))
	for url := range p.entries {
		urls = append(urls, url)
	}
	p.mu.Unlock()

	stats := PoolStats{Relays: make([]RelayStats, 0, len(urls))}
	for _, url := range urls {
		entry := p.entry(url)
		entry.mu.Lock()
		relay := RelayStats{
			URL:            url,
			FailedAttempts: entry.failedAttempts,
			LastConnected:  entry.lastConnected,
		}
		if !entry.lastConnected.IsZero() {
			relay.Age = now.Sub(entry.lastConnected)
		}
		if entry.conn != nil && entry.conn.Connected() {
			relay.Connected = true
			stats.ActiveConnections++
		}
		entry.mu.Unlock()
		stats.Relays = append(stats.Relays, relay)
	}
	return stats
}

// Close tears down every live connection. Used at process shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.conn != nil {
			entry.conn.Close()
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
}

func (p *Pool) entry(url string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[url]
	if !ok {
		entry = &poolEntry{}
		p.entries[url] = entry
	}
	return entry
}
