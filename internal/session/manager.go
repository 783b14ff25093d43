package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/mediaflow/internal/buffer"
	"github.com/jmylchreest/mediaflow/internal/fetch"
	"github.com/jmylchreest/mediaflow/internal/provider"
	"github.com/jmylchreest/mediaflow/internal/quality"
)

// ErrUnknownSession is returned for operations on session ids the
// manager does not hold.
var ErrUnknownSession = errors.New("unknown session")

// ManagerConfig holds the per-session component configuration the
// manager stamps out for each new session.
type ManagerConfig struct {
	Session Config
	Fetch   fetch.Config
	Buffer  buffer.Config
	Quality quality.Config
}

// Manager owns multiple independent sessions. Sessions share only the
// provider registry (and through it the persisted score table); fetcher,
// tracker, and advisor are per-session.
type Manager struct {
	config     ManagerConfig
	registry   *provider.Registry
	validator  Validator
	notifier   Notifier
	decodeCost quality.CostSource
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager around a shared provider registry.
func NewManager(cfg ManagerConfig, registry *provider.Registry, validator Validator, notifier Notifier, decodeCost quality.CostSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:     cfg,
		registry:   registry,
		validator:  validator,
		notifier:   notifier,
		decodeCost: decodeCost,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Create builds a new session with its own fetcher, tracker, and advisor.
func (m *Manager) Create() *Session {
	fcfg := m.config.Fetch
	fcfg.Logger = m.logger
	bcfg := m.config.Buffer
	bcfg.Logger = m.logger
	qcfg := m.config.Quality
	qcfg.Logger = m.logger
	scfg := m.config.Session
	scfg.Logger = m.logger

	s := NewSession(scfg, Deps{
		Registry:   m.registry,
		Fetcher:    fetch.NewFetcher(fcfg),
		Tracker:    buffer.NewTracker(bcfg),
		Advisor:    quality.NewAdvisor(qcfg),
		Validator:  m.validator,
		Notifier:   m.notifier,
		DecodeCost: m.decodeCost,
	})

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("session created", slog.String("session_id", s.ID()))
	return s
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Remove disposes a session and drops it from the manager.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	s.Dispose()
	m.logger.Info("session removed", slog.String("session_id", id))
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown disposes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}

// Stats returns statistics for all live sessions.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.sessions))
	for _, s := range m.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}
