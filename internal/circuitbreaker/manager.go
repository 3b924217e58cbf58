package circuitbreaker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager hands out one breaker per dependency name.
type Manager struct {
	breakers map[string]*CircuitBreaker
	defaults Config
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

func NewManager(defaults Config, logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		logger:   logger,
	}
}

// Breaker returns the breaker registered under name, creating it from the
// manager defaults on first use.
func (m *Manager) Breaker(name string) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	config := m.defaults
	config.Name = name
	breaker := New(config, m.logger)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_breaker": name,
		"max_failures":    breaker.cfg.MaxFailures,
		"open_timeout":    breaker.cfg.OpenTimeout.String(),
		"max_probes":      breaker.cfg.MaxProbes,
	}).Info("Circuit breaker created")

	return breaker
}

func (m *Manager) Get(name string) *CircuitBreaker {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.breakers[name]
}

func (m *Manager) AllMetrics() map[string]Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	metrics := make(map[string]Metrics, len(m.breakers))
	for name, breaker := range m.breakers {
		metrics[name] = breaker.Metrics()
	}
	return metrics
}

// Healthy reports whether no managed breaker is open.
func (m *Manager) Healthy() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, breaker := range m.breakers {
		if breaker.State() == StateOpen {
			return false
		}
	}
	return true
}

func (m *Manager) Reset(name string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if breaker, exists := m.breakers[name]; exists {
		breaker.Reset()
		m.logger.WithField("circuit_breaker", name).Info("Circuit breaker reset")
		return true
	}
	return false
}
