// Package postgres manages database connectivity: a primary pool for
// writes plus optional read replicas for the integrity engine's scans.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cardfolio/backoffice/pkg/observability"
)

// Config holds database connection configuration
type Config struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionManager holds the primary pool and any read replicas.
// Ledger writes and undo always go to the primary; integrity scans read
// from a replica when one is available.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32
	mu       sync.RWMutex
	config   Config
	log      *observability.Logger
}

// NewConnectionManager opens and verifies the primary connection, then
// attaches whichever replicas respond. Replicas are optional: a replica
// that fails to connect is skipped with a warning.
func NewConnectionManager(cfg Config, log *observability.Logger) (*ConnectionManager, error) {
	cm := &ConnectionManager{config: cfg, log: log}

	primary, err := sql.Open("postgres", cfg.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	primary.SetMaxOpenConns(cfg.MaxConns)
	primary.SetMaxIdleConns(cfg.MinConns)
	primary.SetConnMaxLifetime(cfg.MaxLifetime)
	primary.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := primary.PingContext(ctx); err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}
	cm.primary = primary

	for i, replicaURL := range cfg.ReplicaURLs {
		replica, err := sql.Open("postgres", replicaURL)
		if err != nil {
			log.WithError(err).WithField("replica", i).Warn("failed to open replica connection")
			continue
		}

		replicaMaxConns := cfg.MaxConns / 2
		if replicaMaxConns < 2 {
			replicaMaxConns = 2
		}
		replica.SetMaxOpenConns(replicaMaxConns)
		replica.SetMaxIdleConns(cfg.MinConns)
		replica.SetConnMaxLifetime(cfg.MaxLifetime)
		replica.SetConnMaxIdleTime(cfg.MaxIdleTime)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.Timeout)
		err = replica.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			log.WithError(err).WithField("replica", i).Warn("failed to ping replica")
			replica.Close()
			continue
		}

		cm.replicas = append(cm.replicas, replica)
	}

	log.WithField("replicas", len(cm.replicas)).Info("database connections established")
	return cm, nil
}

// Primary returns the write connection
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read connection, round-robin across replicas, or the
// primary when no replica is attached.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	replicaCount := len(cm.replicas)
	cm.mu.RUnlock()

	if replicaCount == 0 {
		return cm.primary
	}

	index := atomic.AddUint32(&cm.current, 1)
	cm.mu.RLock()
	replica := cm.replicas[int(index%uint32(replicaCount))]
	cm.mu.RUnlock()
	return replica
}

// HealthCheck pings the primary and reports when every replica is down
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	replicas := make([]*sql.DB, len(cm.replicas))
	copy(replicas, cm.replicas)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// RemoveUnhealthyReplicas drops and closes replicas that fail a ping,
// returning how many were removed.
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0
	for _, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
		} else {
			healthy = append(healthy, replica)
		}
	}
	cm.replicas = healthy
	return removed
}

// StartReplicaReaper periodically removes unhealthy replicas until the
// context is cancelled.
func (cm *ConnectionManager) StartReplicaReaper(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				removed := cm.RemoveUnhealthyReplicas(checkCtx)
				cancel()
				if removed > 0 {
					cm.log.WithField("removed", removed).Warn("dropped unhealthy replicas")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes the primary and every replica
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("connection close errors: %v", errs)
	}
	return nil
}

// ParseReplicaURLs splits a comma-separated replica URL list
func ParseReplicaURLs(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, url := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
