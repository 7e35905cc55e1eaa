package walletauth_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-wallet-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockIdentityStore implements walletauth.IdentityStore
type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) FindUserByIdentifier(ctx context.Context, identifier string) (*walletauth.User, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*walletauth.User), args.Error(1)
}

func (m *MockIdentityStore) CreateUser(ctx context.Context, user *walletauth.User) (*walletauth.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*walletauth.User), args.Error(1)
}

func (m *MockIdentityStore) PatchUser(ctx context.Context, id uuid.UUID, patch walletauth.UserPatch) (*walletauth.User, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*walletauth.User), args.Error(1)
}

// MockVerifier implements walletauth.SignatureVerifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(address, message, signature string) bool {
	args := m.Called(address, message, signature)
	return args.Bool(0)
}

// staticVerifier always returns a fixed verdict.
type staticVerifier bool

func (v staticVerifier) Verify(string, string, string) bool {
	return bool(v)
}

// recordingSink captures activity events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []walletauth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event walletauth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []walletauth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]walletauth.ActivityEvent(nil), s.events...)
}

func (s *recordingSink) HasEvent(eventType walletauth.ActivityEventType) bool {
	for _, e := range s.Events() {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// memoryIdentityStore is a map-backed IdentityStore for flows where mock
// expectations get in the way.
type memoryIdentityStore struct {
	mu    sync.Mutex
	users map[string]*walletauth.User
}

func newMemoryIdentityStore() *memoryIdentityStore {
	return &memoryIdentityStore{users: make(map[string]*walletauth.User)}
}

func (s *memoryIdentityStore) FindUserByIdentifier(_ context.Context, identifier string) (*walletauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[identifier]; ok {
		return user, nil
	}
	return nil, walletauth.ErrUserNotFound
}

func (s *memoryIdentityStore) CreateUser(_ context.Context, user *walletauth.User) (*walletauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.Email] = user
	return user, nil
}

func (s *memoryIdentityStore) PatchUser(_ context.Context, id uuid.UUID, patch walletauth.UserPatch) (*walletauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == id {
			if patch.LastSeenAt != nil {
				user.LastSeenAt = patch.LastSeenAt
			}
			if patch.EmailValidated != nil {
				user.EmailValidated = *patch.EmailValidated
			}
			if patch.Role != nil {
				user.Role = *patch.Role
			}
			return user, nil
		}
	}
	return nil, walletauth.ErrUserNotFound
}
