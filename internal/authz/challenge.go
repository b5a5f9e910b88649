package authz

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// Challenge binds a pending biometric ceremony to the exact transaction it
// authorizes. A signed response over this challenge cannot be replayed
// against a different amount or recipient.
type Challenge struct {
	ID        string
	UserID    string
	TxnID     string
	Txn       TransactionData
	Challenge string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// ChallengeStore keeps live challenges in memory. Expiry is enforced both
// lazily on read and by a background sweep so the map stays bounded.
type ChallengeStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*Challenge
}

func NewChallengeStore(now func() time.Time) *ChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{now: now, entries: make(map[string]*Challenge)}
}

func (s *ChallengeStore) Put(ch *Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ch.ID] = ch
}

// Take returns the challenge and atomically marks it consumed. Reuse,
// expiry, and unknown ids are distinct errors so callers can surface them
// precisely.
func (s *ChallengeStore) Take(id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.entries[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if ch.Consumed {
		return nil, ErrChallengeConsumed
	}
	if !s.now().Before(ch.ExpiresAt) {
		delete(s.entries, id)
		return nil, ErrChallengeExpired
	}
	ch.Consumed = true
	return ch, nil
}

func (s *ChallengeStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, ch := range s.entries {
		if ch.Consumed || !now.Before(ch.ExpiresAt) {
			delete(s.entries, id)
		}
	}
}

// RunSweeper expires stale challenges until the context is cancelled.
func (s *ChallengeStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func newChallengeValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
