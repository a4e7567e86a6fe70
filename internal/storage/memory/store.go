// Package memory implements storage interfaces with in-process maps.
// It backs tests and single-node development setups; data does not
// survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// Store implements storage.Store with mutex-guarded maps
type Store struct {
	mu       sync.RWMutex
	buyers   map[string]*storage.Buyer
	sessions map[string]*storage.Session
	carts    map[string]*storage.Cart
	logs     []*storage.LogEntry
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		buyers:   make(map[string]*storage.Buyer),
		sessions: make(map[string]*storage.Session),
		carts:    make(map[string]*storage.Cart),
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error  { return nil }

// BuyerStore implementation

func (s *Store) CreateBuyer(ctx context.Context, buyer *storage.Buyer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buyers[buyer.BuyerID]; ok {
		return fmt.Errorf("buyer %s already exists", buyer.BuyerID)
	}
	if buyer.CreatedAt.IsZero() {
		buyer.CreatedAt = time.Now()
	}
	cp := *buyer
	s.buyers[buyer.BuyerID] = &cp
	return nil
}

func (s *Store) GetBuyer(ctx context.Context, buyerID string) (*storage.Buyer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buyer, ok := s.buyers[buyerID]
	if !ok {
		return nil, nil
	}
	cp := *buyer
	return &cp, nil
}

func (s *Store) UpdateBuyer(ctx context.Context, buyer *storage.Buyer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *buyer
	s.buyers[buyer.BuyerID] = &cp
	return nil
}

func (s *Store) TouchBuyer(ctx context.Context, buyerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buyer, ok := s.buyers[buyerID]; ok {
		buyer.LastActivity = at
	}
	return nil
}

func (s *Store) ListBuyers(ctx context.Context, filter *storage.BuyerFilter) ([]*storage.Buyer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Buyer
	for _, buyer := range s.buyers {
		if !matchBuyer(buyer, filter) {
			continue
		}
		cp := *buyer
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuyerID < out[j].BuyerID })
	return paginate(out, filter), nil
}

func (s *Store) CountBuyers(ctx context.Context, filter *storage.BuyerFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, buyer := range s.buyers {
		if matchBuyer(buyer, filter) {
			n++
		}
	}
	return n, nil
}

func matchBuyer(buyer *storage.Buyer, filter *storage.BuyerFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Protocol != "" && buyer.Protocol != filter.Protocol {
		return false
	}
	if filter.Active != nil && buyer.Active != *filter.Active {
		return false
	}
	return true
}

func paginate(buyers []*storage.Buyer, filter *storage.BuyerFilter) []*storage.Buyer {
	if filter == nil {
		return buyers
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(buyers) {
			return nil
		}
		buyers = buyers[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(buyers) {
		buyers = buyers[:filter.Limit]
	}
	return buyers
}

// SessionStore implementation

func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SID]; ok {
		return fmt.Errorf("session %s already exists", session.SID)
	}
	cp := *session
	s.sessions[session.SID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, sid string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sid]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (s *Store) RemoveSession(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sid]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, sid)
	return nil
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time) ([]*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Session
	for _, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CountSessions(ctx context.Context, filter *storage.SessionFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, session := range s.sessions {
		if filter != nil {
			if filter.BuyerID != "" && session.BuyerID != filter.BuyerID {
				continue
			}
			if filter.CreatedAfter != nil && session.CreatedAt.Before(*filter.CreatedAfter) {
				continue
			}
			if filter.CreatedBefore != nil && !session.CreatedAt.Before(*filter.CreatedBefore) {
				continue
			}
			if filter.ActiveAt != nil && !session.ExpiresAt.After(*filter.ActiveAt) {
				continue
			}
		}
		n++
	}
	return n, nil
}

// CartStore implementation

func (s *Store) CreateCart(ctx context.Context, cart *storage.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart.ID == "" {
		cart.ID = uuid.New().String()
	}
	cp := *cart
	s.carts[cart.ID] = &cp
	return nil
}

func (s *Store) ListCarts(ctx context.Context, filter *storage.CartFilter) ([]*storage.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Cart
	for _, cart := range s.carts {
		if !matchCart(cart, filter) {
			continue
		}
		cp := *cart
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return nil, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(out) {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

func (s *Store) CountCarts(ctx context.Context, filter *storage.CartFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, cart := range s.carts {
		if matchCart(cart, filter) {
			n++
		}
	}
	return n, nil
}

func matchCart(cart *storage.Cart, filter *storage.CartFilter) bool {
	if filter == nil {
		return true
	}
	if filter.BuyerID != "" && cart.BuyerID != filter.BuyerID {
		return false
	}
	if filter.PostedAfter != nil && cart.PostedAt.Before(*filter.PostedAfter) {
		return false
	}
	if filter.PostedBefore != nil && cart.PostedAt.After(*filter.PostedBefore) {
		return false
	}
	return true
}

// LogStore implementation

func (s *Store) AppendLog(ctx context.Context, entry *storage.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *Store) ListLogs(ctx context.Context, filter *storage.LogFilter) ([]*storage.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.LogEntry
	for _, entry := range s.logs {
		if filter != nil {
			if filter.Protocol != "" && entry.Protocol != filter.Protocol {
				continue
			}
			if filter.BuyerID != "" && entry.BuyerID != filter.BuyerID {
				continue
			}
			if filter.After != nil && entry.Timestamp.Before(*filter.After) {
				continue
			}
			if filter.Before != nil && entry.Timestamp.After(*filter.Before) {
				continue
			}
		}
		cp := *entry
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return nil, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(out) {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

func (s *Store) PurgeLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*storage.LogEntry
	var removed int64
	for _, entry := range s.logs {
		if entry.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return removed, nil
}
