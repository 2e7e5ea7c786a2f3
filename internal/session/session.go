// Package session keeps the interactive state bound to a delivered result.
//
// A Session is immutable once registered. Follow-up actions that produce a
// new image register a fresh Session and retire the old one. Sessions stop
// honoring actions once idle for longer than the timeout, and a short
// cooldown separates consecutive actions on the same session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Action string

const (
	ActionVariation Action = "variation"
	ActionZoomIn    Action = "zoom_in"
	ActionZoomOut   Action = "zoom_out"
	ActionSendDM    Action = "dm"
)

// Consumes reports whether the action runs a new generation.
func (a Action) Consumes() bool {
	switch a {
	case ActionVariation, ActionZoomIn, ActionZoomOut:
		return true
	default:
		return false
	}
}

func (a Action) Valid() bool {
	return a.Consumes() || a == ActionSendDM
}

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
	ErrCooldown = errors.New("session cooling down")
)

type Session struct {
	ID             string
	OwnerID        string
	OriginalPrompt string
	EnrichedPrompt string
	Model          string
	Style          string
	Quality        string
	ZoomLevel      int
	Image          []byte
	ImageMime      string
	ImageURL       string
	GenerationTime float64
	CreatedAt      time.Time
}

type entry struct {
	session  *Session
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Manager struct {
	mu       sync.Mutex
	entries  map[string]*entry
	timeout  time.Duration
	cooldown time.Duration
	now      func() time.Time
	onChange func(active int)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithActiveHook is called with the number of live sessions after every change.
func WithActiveHook(fn func(active int)) Option {
	return func(m *Manager) {
		m.onChange = fn
	}
}

func NewManager(timeout, cooldown time.Duration, opts ...Option) *Manager {
	m := &Manager{
		entries:  make(map[string]*entry),
		timeout:  timeout,
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register stores s, assigning an ID and creation time when unset. The
// creation counts as the first interaction for both idle timeout and cooldown.
func (m *Manager) Register(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(s)
	m.notifyLocked()
	return s
}

// Replace registers next and retires the session it was derived from.
func (m *Manager) Replace(oldID string, next *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, oldID)
	m.registerLocked(next)
	m.notifyLocked()
	return next
}

func (m *Manager) registerLocked(s *Session) {
	now := m.now()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.ZoomLevel < 1 {
		s.ZoomLevel = 1
	}
	limiter := rate.NewLimiter(rate.Every(m.cooldown), 1)
	limiter.AllowN(now, 1)
	m.entries[s.ID] = &entry{session: s, limiter: limiter, lastSeen: now}
}

// Get returns a live session without counting it as an interaction.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.liveLocked(id, m.now())
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

// Acquire honors one follow-up action: the session must be live and out of
// its cooldown. A rejected attempt does not restart the cooldown.
func (m *Manager) Acquire(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, err := m.liveLocked(id, now)
	if err != nil {
		return nil, err
	}
	if !e.limiter.AllowN(now, 1) {
		return nil, ErrCooldown
	}
	e.lastSeen = now
	return e.session, nil
}

func (m *Manager) liveLocked(id string, now time.Time) (*entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.timeout > 0 && now.Sub(e.lastSeen) > m.timeout {
		delete(m.entries, id)
		m.notifyLocked()
		return nil, ErrExpired
	}
	return e, nil
}

// Sweep drops expired sessions and returns how many remain.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if m.timeout > 0 && now.Sub(e.lastSeen) > m.timeout {
			delete(m.entries, id)
		}
	}
	m.notifyLocked()
	return len(m.entries)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) notifyLocked() {
	if m.onChange != nil {
		m.onChange(len(m.entries))
	}
}
