// Package session owns the PunchOut session state machine.
//
// A session is created when a buyer's setup or start request
// authenticates, lives for a fixed TTL (one hour by default), and ends
// exactly once: either the cart is returned and the record is removed,
// or the TTL elapses and the record is removed lazily on the next
// validation or by the periodic sweep. Lazy removal means correctness
// never depends on the sweep; the sweep is storage hygiene only.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// DefaultTTL is the session lifetime applied when none is configured.
const DefaultTTL = time.Hour

var (
	// ErrNotFound indicates no live session exists for the sid. Also
	// returned for a second close of the same sid: double returns must
	// fail, not silently succeed twice.
	ErrNotFound = errors.New("session not found")

	// ErrExpired indicates the session existed but its TTL elapsed.
	// The record is removed as a side effect, so a later lookup
	// reports ErrNotFound.
	ErrExpired = errors.New("session expired")
)

// Manager drives the session lifecycle against the session store
type Manager struct {
	store  storage.SessionStore
	ttl    time.Duration
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// Config holds manager configuration
type Config struct {
	TTL    time.Duration
	Logger *slog.Logger
}

// NewManager creates a session manager
func NewManager(store storage.SessionStore, cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Params carries the per-session values captured at creation time
type Params struct {
	UserHint string
	HookURL  string
}

// Create generates a fresh session for the buyer and persists it.
// A sid collision on insert is practically impossible (256-bit random
// sid) but is treated as a retry-once condition rather than trusted.
func (m *Manager) Create(ctx context.Context, buyer *storage.Buyer, params Params) (*storage.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		now := m.now()
		session := &storage.Session{
			SID:         NewSID(),
			BuyerID:     buyer.BuyerID,
			UserHint:    params.UserHint,
			HookURL:     params.HookURL,
			PricingTier: buyer.PricingTier,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.ttl),
		}
		if err := m.store.CreateSession(ctx, session); err != nil {
			lastErr = err
			continue
		}
		m.logger.Info("session created",
			"sid", session.SID,
			"buyer", buyer.BuyerID,
			"expires_at", session.ExpiresAt,
		)
		return session, nil
	}
	return nil, fmt.Errorf("creating session: %w", lastErr)
}

// Validate fetches the session for a sid. An expired record is removed
// eagerly and reported as ErrExpired; the next caller sees ErrNotFound,
// the same as if the record were already gone.
func (m *Manager) Validate(ctx context.Context, sid string) (*storage.Session, error) {
	session, err := m.store.GetSession(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	if session == nil {
		return nil, ErrNotFound
	}

	if m.now().After(session.ExpiresAt) {
		// Lazy cleanup; a concurrent sweep may have won the removal.
		if err := m.store.RemoveSession(ctx, sid); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("removing expired session", "sid", sid, "error", err)
		}
		return nil, ErrExpired
	}

	return session, nil
}

// Close removes the session record. The store's delete is the single
// arbiter for exactly-once close: the loser of a concurrent race gets
// ErrNotFound and must surface it, never retry the delivery.
func (m *Manager) Close(ctx context.Context, sid string) error {
	err := m.store.RemoveSession(ctx, sid)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// SweepExpired removes all sessions past their TTL, returning the count.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("listing expired sessions: %w", err)
	}

	removed := 0
	for _, session := range expired {
		if err := m.store.RemoveSession(ctx, session.SID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("removing session %s: %w", session.SID, err)
		}
		removed++
	}
	return removed, nil
}

// NewSID returns a 64-character hex session token (256 bits of entropy).
func NewSID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
