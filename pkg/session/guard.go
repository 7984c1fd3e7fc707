package session

import (
	"errors"
	"sync"
	"time"

	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
)

var (
	ErrUnauthorized = errors.New("no active session")
	ErrForbidden    = errors.New("actor may not access this resource")
	ErrInvalidRole  = errors.New("unknown role")
)

// Guard holds the single active session for this runtime context and
// answers capability questions about it. A clinician may touch any
// subject's resources; a subject only its own.
type Guard struct {
	mu         sync.Mutex
	current    *models.Session
	generation uint64
	ttl        time.Duration
	nowFunc    func() time.Time
}

func NewGuard(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Guard{ttl: ttl, nowFunc: time.Now}
}

// Authenticate replaces any prior session. All subsequent access checks
// use the new identity.
func (g *Guard) Authenticate(actorID uuid.UUID, role models.Role) (models.Session, error) {
	if actorID == uuid.Nil {
		return models.Session{}, ErrUnauthorized
	}
	if !role.Valid() {
		return models.Session{}, ErrInvalidRole
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	g.current = &models.Session{
		ActorID:        actorID,
		Role:           role,
		StartedAt:      now,
		LastActivityAt: now,
	}
	g.generation++

	logger.Log.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"role":     role,
	}).Info("session started")

	return *g.current, nil
}

func (g *Guard) Logout() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		logger.Log.WithField("actor_id", g.current.ActorID).Info("session ended")
	}
	g.current = nil
	g.generation++
}

// Current returns the active session, touching its activity timestamp.
// An expired session is discarded as if logged out.
func (g *Guard) Current() (models.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess := g.activeLocked()
	if sess == nil {
		return models.Session{}, false
	}
	sess.LastActivityAt = g.nowFunc()
	return *sess, true
}

// Generation increments on every login and logout. Slow writes capture it
// before touching storage so a write started under an old session can be
// fenced out instead of landing in the new session's keyspace.
func (g *Guard) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// CanAccess checks whether the current actor may read or write resources
// owned by ownerID.
func (g *Guard) CanAccess(ownerID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess := g.activeLocked()
	if sess == nil {
		return ErrUnauthorized
	}
	sess.LastActivityAt = g.nowFunc()

	if sess.Role == models.RoleClinician {
		return nil
	}
	if sess.ActorID == ownerID {
		return nil
	}
	return ErrForbidden
}

// RequireClinician gates clinician-only operations.
func (g *Guard) RequireClinician() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess := g.activeLocked()
	if sess == nil {
		return ErrUnauthorized
	}
	if sess.Role != models.RoleClinician {
		return ErrForbidden
	}
	sess.LastActivityAt = g.nowFunc()
	return nil
}

func (g *Guard) activeLocked() *models.Session {
	if g.current == nil {
		return nil
	}
	if g.nowFunc().Sub(g.current.LastActivityAt) > g.ttl {
		g.current = nil
		g.generation++
		return nil
	}
	return g.current
}
