// Package metrics exposes connection pool statistics for the health
// endpoints.
package metrics

import (
	"database/sql"
	"sync"
	"time"
)

// PoolStats is a point-in-time snapshot of one sql.DB pool.
type PoolStats struct {
	OpenConnections    int    `json:"open_connections"`
	InUse              int    `json:"in_use"`
	Idle               int    `json:"idle"`
	MaxOpenConnections int    `json:"max_open_connections"`
	WaitCount          int64  `json:"wait_count"`
	WaitDurationMS     int64  `json:"wait_duration_ms"`
	MaxLifetimeClosed  int64  `json:"max_lifetime_closed"`
	Health             string `json:"health"`
}

const (
	healthOK       = "healthy"
	healthDegraded = "degraded"
	healthBad      = "unhealthy"
)

// snapshot reads the pool counters and grades them. Saturation with waiters
// means callers are blocking on connections.
func snapshot(db *sql.DB) PoolStats {
	s := db.Stats()
	ps := PoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDurationMS:     s.WaitDuration.Milliseconds(),
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
		Health:             healthOK,
	}
	if s.MaxOpenConnections > 0 {
		usage := float64(s.InUse) / float64(s.MaxOpenConnections)
		switch {
		case usage >= 1 && s.WaitCount > 0:
			ps.Health = healthBad
		case usage >= 0.8:
			ps.Health = healthDegraded
		}
	}
	return ps
}

var (
	mu    sync.RWMutex
	pools = map[string]*sql.DB{}
)

// RegisterPool makes a pool visible to Snapshot under the given name.
func RegisterPool(name string, db *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	pools[name] = db
}

// Snapshot returns the current stats for every registered pool.
func Snapshot() map[string]PoolStats {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]PoolStats, len(pools))
	for name, db := range pools {
		out[name] = snapshot(db)
	}
	return out
}

// Uptime reporting for the stats endpoint.
var startedAt = time.Now()

// Uptime returns how long the process has been running.
func Uptime() time.Duration { return time.Since(startedAt) }
