package web

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/solemart/storefront/internal/cart"
)

// Sessions owns one cart store per browsing session. Stores are
// created lazily and seeded from persisted state when available; they
// are never ambient globals, so tests can build isolated registries.
type Sessions struct {
	mu      sync.Mutex
	carts   map[string]*session
	factory func(sessionID string) *cart.Store
	log     logrus.FieldLogger
}

type session struct {
	store   *cart.Store
	restore sync.Once
}

func NewSessions(factory func(sessionID string) *cart.Store, log logrus.FieldLogger) *Sessions {
	return &Sessions{
		carts:   make(map[string]*session),
		factory: factory,
		log:     log,
	}
}

// Cart returns the store for a session, creating and restoring it on
// first use. Callers racing on the first use all wait for the restore,
// so none of them is handed a not-yet-seeded cart.
func (s *Sessions) Cart(ctx context.Context, sessionID string) *cart.Store {
	s.mu.Lock()
	sess, ok := s.carts[sessionID]
	if !ok {
		sess = &session{store: s.factory(sessionID)}
		s.carts[sessionID] = sess
	}
	s.mu.Unlock()

	sess.restore.Do(func() {
		if err := sess.store.Restore(ctx); err != nil {
			s.log.WithError(err).WithField("session_id", sessionID).Warn("cart restore failed")
		}
	})
	return sess.store
}

// ClearByHandle clears the cart whose remote handle matches. Used by
// the checkout-completion listener. An unknown handle is a no-op:
// the session may live on another instance or be gone already.
func (s *Sessions) ClearByHandle(ctx context.Context, handle string) error {
	s.mu.Lock()
	var match *cart.Store
	for _, sess := range s.carts {
		if h, ok := sess.store.RemoteHandle(); ok && h == handle {
			match = sess.store
			break
		}
	}
	s.mu.Unlock()

	if match == nil {
		return nil
	}
	return match.Clear(ctx)
}

// Close disposes every store. In-flight gateway calls finish but their
// results are discarded.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.carts {
		sess.store.Close()
	}
	s.carts = make(map[string]*session)
}
