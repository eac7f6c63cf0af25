package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"store-backend/internal/counter"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCredentialStore struct {
	mu         sync.Mutex
	identities map[string]Identity
	err        error
	findByID   int
}

func newFakeCredentialStore(identities ...Identity) *fakeCredentialStore {
	s := &fakeCredentialStore{identities: make(map[string]Identity)}
	for _, identity := range identities {
		s.identities[identity.ID] = identity
	}
	return s
}

func (s *fakeCredentialStore) FindByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Identity{}, s.err
	}
	for _, identity := range s.identities {
		if strings.EqualFold(identity.Email, email) {
			return identity, nil
		}
	}
	return Identity{}, ErrIdentityNotFound
}

func (s *fakeCredentialStore) FindByID(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByID++
	if s.err != nil {
		return Identity{}, s.err
	}
	identity, ok := s.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	identity.PasswordHash = nil
	return identity, nil
}

func (s *fakeCredentialStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = &hash
	s.identities[id] = identity
	return nil
}

func (s *fakeCredentialStore) UpsertAdmin(_ context.Context, email, passwordHash string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, identity := range s.identities {
		if identity.Email == email {
			identity.Role = RoleAdmin
			identity.Active = true
			identity.PasswordHash = &passwordHash
			s.identities[id] = identity
			return identity, nil
		}
	}
	identity := Identity{ID: "admin-1", Email: email, Role: RoleAdmin, Active: true, PasswordHash: &passwordHash}
	s.identities[identity.ID] = identity
	return identity, nil
}

func (s *fakeCredentialStore) setActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity := s.identities[id]
	identity.Active = active
	s.identities[id] = identity
}

func (s *fakeCredentialStore) setRole(id string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity := s.identities[id]
	identity.Role = role
	s.identities[id] = identity
}

func newTestCodec(t *testing.T, clock *testClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)
	codec.now = clock.Now
	return codec
}

var testHasher = NewPasswordHasher(4)

func hashFor(t *testing.T, secret string) *string {
	t.Helper()
	hash, err := testHasher.Hash(secret)
	require.NoError(t, err)
	return &hash
}

const (
	customerID = "0190c3a2-0000-7000-8000-000000000001"
	otherID    = "0190c3a2-0000-7000-8000-000000000002"
	adminID    = "0190c3a2-0000-7000-8000-000000000003"
)

type serviceFixture struct {
	clock   *testClock
	store   *fakeCredentialStore
	counter *counter.MemoryStore
	lockout *LockoutTracker
	codec   *TokenCodec
	service *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	clock := newTestClock()
	store := newFakeCredentialStore(
		Identity{ID: customerID, Email: "ana@example.com", Name: "Ana", Role: RoleCustomer, Active: true, PasswordHash: hashFor(t, "correct horse")},
		Identity{ID: otherID, Email: "bruno@example.com", Name: "Bruno", Role: RoleCustomer, Active: true, PasswordHash: hashFor(t, "battery staple")},
		Identity{ID: adminID, Email: "root@example.com", Name: "Root", Role: RoleAdmin, Active: true, PasswordHash: hashFor(t, "admin secret")},
	)

	counters := counter.NewMemoryStore(counter.WithClock(clock.Now))
	lockout := NewLockoutTracker(counters, LockoutConfig{MaxAttempts: 3, LockDuration: 15 * time.Minute})
	lockout.now = clock.Now
	codec := newTestCodec(t, clock)

	return &serviceFixture{
		clock:   clock,
		store:   store,
		counter: counters,
		lockout: lockout,
		codec:   codec,
		service: NewService(ServiceDeps{
			Store:     store,
			Hasher:    testHasher,
			Lockout:   lockout,
			Codec:     codec,
			Bootstrap: store,
		}),
	}
}

func bearerRequest(t *testing.T, method, target, token string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
