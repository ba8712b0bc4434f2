package api

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
	"swot-insights/internal/persistence"
	"swot-insights/internal/survey"
)

const DefaultSessionCacheSize = 1024

const flushTimeout = 10 * time.Second

// formSession is one user's live survey and its backing store.
type formSession struct {
	orch  *survey.Orchestrator
	store *persistence.Store
}

// SessionManager keeps recently used form sessions in memory. A session
// evicted from the cache is flushed and recovered from persistence the next
// time its user shows up. Sessions evicted mid-generation are parked until
// the generation settles so the running orchestrator is reattached instead
// of restored from storage.
type SessionManager struct {
	kv        persistence.KV
	opts      persistence.Options
	catalog   *survey.Catalog
	generator survey.Generator
	logger    logger.Logger

	// guards cache mutations and parked; onEvict runs with mu held
	mu     sync.Mutex
	cache  *lru.Cache[string, *formSession]
	parked map[string]*formSession
}

type SessionManagerConfig struct {
	Size        int
	KV          persistence.KV
	Persistence persistence.Options
	Catalog     *survey.Catalog
	Generator   survey.Generator
	Logger      logger.Logger
}

func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSessionCacheSize
	}
	if cfg.Catalog == nil {
		cfg.Catalog = survey.DefaultCatalog()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Persistence.Fields == nil {
		cfg.Persistence.Fields = cfg.Catalog
	}
	if cfg.Persistence.Logger == nil {
		cfg.Persistence.Logger = cfg.Logger
	}

	m := &SessionManager{
		kv:        cfg.KV,
		opts:      cfg.Persistence,
		catalog:   cfg.Catalog,
		generator: cfg.Generator,
		logger:    cfg.Logger.With(map[string]interface{}{"component": "sessions"}),
		parked:    make(map[string]*formSession),
	}
	cache, err := lru.NewWithEvict[string, *formSession](cfg.Size, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// Get returns the user's session, recovering saved answers on a cache miss.
// The store is read without holding the manager lock.
func (m *SessionManager) Get(ctx context.Context, identity *models.Identity) *survey.Orchestrator {
	if orch, ok := m.lookup(identity); ok {
		return orch
	}

	store := persistence.NewStore(m.kv, identity.UserID, m.opts)
	orch := survey.NewOrchestrator(survey.Options{
		SessionID: identity.UserID,
		Identity:  identity,
		Catalog:   m.catalog,
		Generator: m.generator,
		Logger:    m.logger,
	})

	loaded, err := store.Load(ctx)
	if err != nil {
		m.logger.Warn("Could not recover saved answers", map[string]interface{}{
			"userId": identity.UserID,
			"error":  err.Error(),
		})
	} else if !loaded.Answers.IsEmpty() {
		v := orch.Restore(loaded.Answers)
		m.logger.Info("Form session recovered", map[string]interface{}{
			"userId": identity.UserID,
			"source": string(loaded.Source),
			"stale":  loaded.Stale,
			"index":  v.Index,
		})
	}
	orch.Subscribe(survey.PersistTo(store))

	m.mu.Lock()
	defer m.mu.Unlock()
	// a concurrent request may have won the race
	if existing, ok := m.lookupLocked(identity); ok {
		return existing
	}
	m.cache.Add(identity.UserID, &formSession{orch: orch, store: store})
	return orch
}

func (m *SessionManager) lookup(identity *models.Identity) (*survey.Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(identity)
}

func (m *SessionManager) lookupLocked(identity *models.Identity) (*survey.Orchestrator, bool) {
	s, ok := m.cache.Get(identity.UserID)
	if !ok {
		if s, ok = m.parked[identity.UserID]; !ok {
			return nil, false
		}
		delete(m.parked, identity.UserID)
		m.cache.Add(identity.UserID, s)
		m.logger.Debug("Reattached parked session", map[string]interface{}{"userId": identity.UserID})
	}
	s.orch.SetIdentity(identity)
	return s.orch, true
}

// Drop forgets the user's session without touching saved data.
func (m *SessionManager) Drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(userID)
	delete(m.parked, userID)
}

func (m *SessionManager) Len() int {
	return m.cache.Len()
}

// FlushAll writes every pending draft, parked sessions included. Used on
// shutdown.
func (m *SessionManager) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*formSession, 0, m.cache.Len()+len(m.parked))
	for _, key := range m.cache.Keys() {
		if s, ok := m.cache.Peek(key); ok {
			sessions = append(sessions, s)
		}
	}
	for _, s := range m.parked {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.store.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *SessionManager) onEvict(userID string, s *formSession) {
	if s.orch.View().Phase == survey.PhaseGenerating {
		m.park(userID, s)
	}
	if !s.store.Pending() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := s.store.Flush(ctx); err != nil {
			m.logger.Warn("Flush of evicted session failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}()
}

// park keeps s reachable until its generation settles. Called with mu held.
func (m *SessionManager) park(userID string, s *formSession) {
	m.parked[userID] = s
	go func() {
		_, _ = s.orch.WaitGeneration(context.Background())
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.parked[userID] == s {
			delete(m.parked, userID)
		}
	}()
}
