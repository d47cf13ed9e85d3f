package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
	"github.com/watt-toolkit/strand/pkg/strand/metrics"
)

var (
	// ErrPoolClosed is returned when attempting to use a closed pool
	ErrPoolClosed = errors.New("client: connection pool closed")

	// ErrUnsupportedScheme is returned for URLs other than http and https
	ErrUnsupportedScheme = errors.New("client: unsupported URL scheme")
)

// Eviction reasons reported to metrics.
const (
	evictTTL      = "ttl"
	evictOverflow = "overflow"
	evictDead     = "dead"
	evictClosed   = "closed"
)

// PoolKey identifies the origin a pooled connection is bound to.
type PoolKey struct {
	Host   string
	Port   int
	Scheme string
}

// KeyFor derives the pool key of an absolute http or https URL.
func KeyFor(u *url.URL) (PoolKey, error) {
	scheme := strings.ToLower(u.Scheme)
	port := 0
	switch scheme {
	case "http":
		port = 80
	case "https":
		port = 443
	default:
		return PoolKey{}, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return PoolKey{}, fmt.Errorf("client: invalid port %q", p)
		}
		port = n
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return PoolKey{}, http11.ErrMissingHost
	}
	return PoolKey{Host: host, Port: port, Scheme: scheme}, nil
}

// Addr returns host:port for dialing.
func (k PoolKey) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

func (k PoolKey) String() string {
	return k.Scheme + "://" + k.Addr()
}

// PoolConfig configures the connection pool
type PoolConfig struct {
	// MaxIdlePerHost is the maximum number of idle connections kept per
	// key. Checking in one more evicts the connection idle the longest.
	// Default: 8
	MaxIdlePerHost int

	// IdleTTL is how long a connection may stay idle before it is evicted.
	// Default: 90 seconds
	IdleTTL time.Duration

	// CleanupInterval is how often expired idle connections are closed in
	// the background. Negative disables the cleaner.
	// Default: 30 seconds
	CleanupInterval time.Duration
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdlePerHost:  8,
		IdleTTL:         90 * time.Second,
		CleanupInterval: 30 * time.Second,
	}
}

// PooledConnection is a client connection bound to a PoolKey.
type PooledConnection struct {
	*http11.Connection

	key       PoolKey
	createdAt time.Time
	idleSince time.Time
	reused    bool
}

// Key returns the origin the connection is bound to.
func (pc *PooledConnection) Key() PoolKey {
	return pc.key
}

// Reused reports whether the connection was checked out of the idle set
// rather than freshly dialed.
func (pc *PooledConnection) Reused() bool {
	return pc.reused
}

// Age returns how long the connection has existed
func (pc *PooledConnection) Age() time.Duration {
	return time.Since(pc.createdAt)
}

// hostPool holds the idle connections of one key, least recently idle
// first. mu guards every check-out, check-in and eviction.
type hostPool struct {
	mu   sync.Mutex
	idle []*PooledConnection
}

// ConnectionPool manages idle client connections keyed by origin.
type ConnectionPool struct {
	config  PoolConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	pools   map[PoolKey]*hostPool
	poolsMu sync.RWMutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	closed   atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConnectionPool creates a pool. A nil logger discards pool events; a
// nil m records no metrics.
func NewConnectionPool(config PoolConfig, logger *zap.Logger, m *metrics.Metrics) *ConnectionPool {
	def := DefaultPoolConfig()
	if config.MaxIdlePerHost <= 0 {
		config.MaxIdlePerHost = def.MaxIdlePerHost
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cp := &ConnectionPool{
		config:   config,
		logger:   logger.Named("pool"),
		metrics:  m,
		pools:    make(map[PoolKey]*hostPool),
		stopChan: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		cp.wg.Add(1)
		go cp.idleConnectionCleaner()
	}
	return cp
}

// Wrap binds a freshly dialed connection to key.
func (cp *ConnectionPool) Wrap(key PoolKey, conn *http11.Connection) *PooledConnection {
	return &PooledConnection{Connection: conn, key: key, createdAt: time.Now()}
}

// Get checks out the most recently idle connection for key, or returns
// nil when none is usable. Connections past IdleTTL or closed by the peer
// are evicted on the way.
func (cp *ConnectionPool) Get(key PoolKey) *PooledConnection {
	if cp.closed.Load() {
		return nil
	}
	hp := cp.getHostPool(key)
	if hp == nil {
		cp.miss()
		return nil
	}

	for {
		hp.mu.Lock()
		n := len(hp.idle)
		if n == 0 {
			hp.mu.Unlock()
			cp.miss()
			return nil
		}
		pc := hp.idle[n-1]
		hp.idle[n-1] = nil
		hp.idle = hp.idle[:n-1]
		hp.mu.Unlock()
		cp.metrics.PoolIdle(-1)

		// the connection is no longer visible to other callers: probe it
		// without holding the key lock
		if cp.expired(pc) {
			cp.evict(pc, evictTTL)
			continue
		}
		if !pc.Alive() {
			cp.evict(pc, evictDead)
			continue
		}

		pc.reused = true
		cp.hits.Add(1)
		cp.metrics.PoolHit()
		return pc
	}
}

func (cp *ConnectionPool) miss() {
	cp.misses.Add(1)
	cp.metrics.PoolMiss()
}

// Put checks pc back in after a completed exchange. Connections that are
// mid-message, marked for closing or handed over are closed instead. It
// reports whether pc was kept.
func (cp *ConnectionPool) Put(pc *PooledConnection) bool {
	if pc.State() != http11.StateIdle || !pc.KeepAlive() {
		pc.Close()
		pc.Release()
		return false
	}
	pc.idleSince = time.Now()
	pc.SetDeadline(time.Time{})

	hp := cp.getOrCreateHostPool(pc.key)
	hp.mu.Lock()
	if cp.closed.Load() {
		hp.mu.Unlock()
		cp.evict(pc, evictClosed)
		return false
	}
	hp.idle = append(hp.idle, pc)
	var oldest *PooledConnection
	if len(hp.idle) > cp.config.MaxIdlePerHost {
		oldest = hp.idle[0]
		hp.idle[0] = nil
		hp.idle = hp.idle[1:]
	}
	hp.mu.Unlock()
	cp.metrics.PoolIdle(1)

	if oldest != nil {
		cp.metrics.PoolIdle(-1)
		cp.evict(oldest, evictOverflow)
	}
	return true
}

func (cp *ConnectionPool) expired(pc *PooledConnection) bool {
	return time.Since(pc.idleSince) > cp.config.IdleTTL
}

func (cp *ConnectionPool) evict(pc *PooledConnection, reason string) {
	pc.Close()
	pc.Release()
	cp.evictions.Add(1)
	cp.metrics.PoolEvicted(reason)
	cp.logger.Debug("evicted idle connection",
		zap.Stringer("key", pc.key),
		zap.String("reason", reason),
		zap.Int("requests", pc.RequestCount()),
		zap.Duration("age", pc.Age()))
}

// getOrCreateHostPool gets or creates a host pool
func (cp *ConnectionPool) getOrCreateHostPool(key PoolKey) *hostPool {
	cp.poolsMu.RLock()
	hp, exists := cp.pools[key]
	cp.poolsMu.RUnlock()

	if exists {
		return hp
	}

	cp.poolsMu.Lock()
	defer cp.poolsMu.Unlock()

	// Double-check after acquiring write lock
	if hp, exists := cp.pools[key]; exists {
		return hp
	}

	hp = &hostPool{}
	cp.pools[key] = hp
	return hp
}

// getHostPool gets a host pool if it exists
func (cp *ConnectionPool) getHostPool(key PoolKey) *hostPool {
	cp.poolsMu.RLock()
	defer cp.poolsMu.RUnlock()
	return cp.pools[key]
}

func (cp *ConnectionPool) hostPools() []*hostPool {
	cp.poolsMu.RLock()
	defer cp.poolsMu.RUnlock()
	pools := make([]*hostPool, 0, len(cp.pools))
	for _, hp := range cp.pools {
		pools = append(pools, hp)
	}
	return pools
}

// idleConnectionCleaner periodically removes idle connections
func (cp *ConnectionPool) idleConnectionCleaner() {
	defer cp.wg.Done()

	ticker := time.NewTicker(cp.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cp.stopChan:
			return
		case <-ticker.C:
			cp.cleanIdleConnections()
		}
	}
}

// cleanIdleConnections evicts connections idle past IdleTTL.
func (cp *ConnectionPool) cleanIdleConnections() {
	for _, hp := range cp.hostPools() {
		var expired []*PooledConnection

		hp.mu.Lock()
		kept := hp.idle[:0]
		for _, pc := range hp.idle {
			if cp.expired(pc) {
				expired = append(expired, pc)
			} else {
				kept = append(kept, pc)
			}
		}
		for i := len(kept); i < len(hp.idle); i++ {
			hp.idle[i] = nil
		}
		hp.idle = kept
		hp.mu.Unlock()

		for _, pc := range expired {
			cp.metrics.PoolIdle(-1)
			cp.evict(pc, evictTTL)
		}
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	IdleConns int
	Hosts     map[PoolKey]int
}

// Stats returns pool statistics
func (cp *ConnectionPool) Stats() PoolStats {
	cp.poolsMu.RLock()
	defer cp.poolsMu.RUnlock()

	stats := PoolStats{
		Hits:      cp.hits.Load(),
		Misses:    cp.misses.Load(),
		Evictions: cp.evictions.Load(),
		Hosts:     make(map[PoolKey]int, len(cp.pools)),
	}
	for key, hp := range cp.pools {
		hp.mu.Lock()
		n := len(hp.idle)
		hp.mu.Unlock()
		if n > 0 {
			stats.Hosts[key] = n
			stats.IdleConns += n
		}
	}
	return stats
}

// Close closes every idle connection. Connections checked out at that
// point are closed when they are checked back in.
func (cp *ConnectionPool) Close() error {
	if !cp.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}

	close(cp.stopChan)
	cp.wg.Wait()

	for _, hp := range cp.hostPools() {
		hp.mu.Lock()
		idle := hp.idle
		hp.idle = nil
		hp.mu.Unlock()

		for _, pc := range idle {
			cp.metrics.PoolIdle(-1)
			cp.evict(pc, evictClosed)
		}
	}
	return nil
}
