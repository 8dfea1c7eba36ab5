package mfa

import (
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// Challenge is a pending MFA login session. Challenges live only in process
// memory: a restart invalidates them and the user logs in again.
type Challenge struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Methods         []string
	MaskedEmail     string
	MaskedPhone     string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Completed       bool
	CompletedBy     string
	WebAuthnSession *webauthn.SessionData
	SmsSent         bool
}

// HasMethod reports whether the factor is offered for this challenge.
func (c *Challenge) HasMethod(method string) bool {
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Store holds live challenges in a mutex-guarded map with a background
// sweep. Expired entries are also rejected on read, so the sweep is hygiene.
type Store struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]*Challenge
	ttl        time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

func NewStore(ttl time.Duration) *Store {
	s := &Store{
		challenges: make(map[uuid.UUID]*Challenge),
		ttl:        ttl,
		done:       make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Create registers a new challenge for the owner.
func (s *Store) Create(ownerID uuid.UUID, methods []string, maskedEmail, maskedPhone string) *Challenge {
	now := time.Now().UTC()
	c := &Challenge{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Methods:     methods,
		MaskedEmail: maskedEmail,
		MaskedPhone: maskedPhone,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	s.mu.Lock()
	s.challenges[c.ID] = c
	s.mu.Unlock()
	return c
}

// Get returns a copy of the live challenge, or ErrSessionNotFound when it is
// absent or expired.
func (s *Store) Get(id uuid.UUID) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Now().UTC().After(c.ExpiresAt) {
		delete(s.challenges, id)
		return nil, ErrSessionNotFound
	}
	copied := *c
	return &copied, nil
}

// Update applies fn to the live challenge under the store lock.
func (s *Store) Update(id uuid.UUID, fn func(*Challenge)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok || time.Now().UTC().After(c.ExpiresAt) {
		delete(s.challenges, id)
		return ErrSessionNotFound
	}
	fn(c)
	return nil
}

// Complete marks the challenge satisfied by the given method. The first
// successful verification wins; later ones get ErrAlreadyCompleted.
func (s *Store) Complete(id uuid.UUID, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok || time.Now().UTC().After(c.ExpiresAt) {
		delete(s.challenges, id)
		return ErrSessionNotFound
	}
	if c.Completed {
		return ErrAlreadyCompleted
	}
	c.Completed = true
	c.CompletedBy = method
	return nil
}

// Delete removes the challenge.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	delete(s.challenges, id)
	s.mu.Unlock()
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			s.mu.Lock()
			for id, c := range s.challenges {
				if now.After(c.ExpiresAt) {
					delete(s.challenges, id)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
