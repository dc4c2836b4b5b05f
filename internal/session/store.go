// Package session keeps chat sessions in memory and evicts idle ones.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"bitechat/internal/domain"
	"bitechat/internal/filter"
	"bitechat/internal/metrics"
)

// Session is one conversation. Callers hold the embedded mutex while reading or
// changing it, which also serialises turns on the same session.
type Session struct {
	sync.Mutex

	ID        string
	CreatedAt time.Time

	history []domain.Message
	filters *filter.Set
}

// History returns a copy of the conversation so far.
func (s *Session) History() []domain.Message {
	return append([]domain.Message(nil), s.history...)
}

// Append records a finished exchange.
func (s *Session) Append(msgs ...domain.Message) {
	s.history = append(s.history, msgs...)
}

// Filters returns the live filter set.
func (s *Session) Filters() *filter.Set { return s.filters }

// Store maps session ids to sessions. Entries expire after ttl without access.
type Store struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStore creates a store whose janitor sweeps expired sessions every cleanup.
func NewStore(ttl, cleanup time.Duration, m *metrics.Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cache:   cache.New(ttl, cleanup),
		metrics: m,
		logger:  logger.Named("sessions"),
	}
	s.cache.OnEvicted(func(id string, _ interface{}) {
		s.metrics.SessionClosed()
		s.logger.Debug("session evicted", zap.String("session_id", id))
	})
	return s
}

// Create starts a new empty session.
func (s *Store) Create() *Session {
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		filters:   filter.NewSet(),
	}
	s.cache.Set(sess.ID, sess, cache.DefaultExpiration)
	s.metrics.SessionOpened()
	s.logger.Debug("session created", zap.String("session_id", sess.ID))
	return sess
}

// Get returns the session and resets its idle timer. A session that expires
// between the lookup and the touch is reported missing, never re-added.
func (s *Store) Get(id string) (*Session, bool) {
	x, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	sess := x.(*Session)
	if err := s.cache.Replace(id, sess, cache.DefaultExpiration); err != nil {
		return nil, false
	}
	return sess, true
}

// Delete ends a session.
func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

// Len returns the number of sessions held, including expired ones not yet swept.
func (s *Store) Len() int { return s.cache.ItemCount() }

// Sweep removes expired sessions now.
func (s *Store) Sweep() { s.cache.DeleteExpired() }
