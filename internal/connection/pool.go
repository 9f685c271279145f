package connection

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/metrics"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// ConnectionPool spreads ledger requests over several connection managers
type ConnectionPool struct {
	managers     []Manager
	currentIndex int
	mu           sync.RWMutex
	logger       *logrus.Entry
	closed       bool
}

// NewConnectionPool creates a new connection pool
func NewConnectionPool(cfg *config.RSKConfig, metricsManager *metrics.Manager) *ConnectionPool {
	maxConnections := cfg.MaxConnections
	if maxConnections <= 0 {
		maxConnections = 1
	}

	managers := make([]Manager, 0, maxConnections)
	for i := 0; i < maxConnections; i++ {
		managers = append(managers, NewConnectionManager(cfg, metricsManager))
	}

	return NewConnectionPoolFromManagers(managers...)
}

// NewConnectionPoolFromManagers builds a pool over existing managers
func NewConnectionPoolFromManagers(managers ...Manager) *ConnectionPool {
	pool := &ConnectionPool{
		managers: managers,
		logger:   utils.ComponentLogger("connection_pool"),
	}
	pool.logger.WithField("size", len(managers)).Info("Connection pool created")
	return pool
}

// GetManager returns the next connection manager (round-robin)
func (cp *ConnectionPool) GetManager() Manager {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed || len(cp.managers) == 0 {
		return nil
	}

	manager := cp.managers[cp.currentIndex]
	cp.currentIndex = (cp.currentIndex + 1) % len(cp.managers)
	return manager
}

// GetHealthyManager returns a healthy connection manager
func (cp *ConnectionPool) GetHealthyManager(ctx context.Context) (Manager, error) {
	for i := 0; i < cp.Size(); i++ {
		manager := cp.GetManager()
		if manager == nil {
			continue
		}

		if manager.IsConnected() {
			return manager, nil
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := manager.HealthCheckWithContext(checkCtx)
		cancel()

		if err == nil {
			return manager, nil
		}

		cp.logger.WithError(err).Warn("Manager failed health check")
	}

	return nil, utils.NewAppError(utils.ErrCodeConnection, "No healthy connection managers available", "")
}

// HealthCheck checks all managers in the pool
func (cp *ConnectionPool) HealthCheck(ctx context.Context) map[int]error {
	cp.mu.RLock()
	managers := make([]Manager, len(cp.managers))
	copy(managers, cp.managers)
	cp.mu.RUnlock()

	results := make(map[int]error, len(managers))
	var (
		wg      sync.WaitGroup
		resultM sync.Mutex
	)

	for i, manager := range managers {
		wg.Add(1)
		go func(index int, mgr Manager) {
			defer wg.Done()
			err := mgr.HealthCheckWithContext(ctx)
			resultM.Lock()
			results[index] = err
			resultM.Unlock()
		}(i, manager)
	}

	wg.Wait()
	return results
}

// GetStats returns statistics for all managers
func (cp *ConnectionPool) GetStats() map[int]ConnectionStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	stats := make(map[int]ConnectionStats, len(cp.managers))
	for i, manager := range cp.managers {
		stats[i] = manager.Stats()
	}
	return stats
}

// Close closes all connection managers in the pool
func (cp *ConnectionPool) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.closed = true
	var lastErr error

	for i, manager := range cp.managers {
		if err := manager.Close(); err != nil {
			cp.logger.WithError(err).WithField("index", i).Error("Failed to close connection manager")
			lastErr = err
		}
	}

	cp.managers = nil
	cp.logger.Info("Connection pool closed")
	return lastErr
}

// Size returns the number of managers in the pool
func (cp *ConnectionPool) Size() int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return len(cp.managers)
}

// ActiveConnections returns the number of active connections
func (cp *ConnectionPool) ActiveConnections() int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	active := 0
	for _, manager := range cp.managers {
		if manager.IsConnected() {
			active++
		}
	}
	return active
}
