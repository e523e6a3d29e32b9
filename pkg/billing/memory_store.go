package billing

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryAccountStore is an in-memory AccountStore for tests and local
// development. Safe for concurrent use.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[uuid.UUID]Account)}
}

func (s *MemoryAccountStore) Get(ctx context.Context, userID uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *MemoryAccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, account := range s.accounts {
		if strings.ToLower(account.Email) == email {
			return cloneAccount(account), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *MemoryAccountStore) Save(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.UserID] = *cloneAccount(*account)
	return nil
}

// cloneAccount copies the record so callers cannot mutate stored state.
func cloneAccount(a Account) *Account {
	if a.BetaExpires != nil {
		exp := *a.BetaExpires
		a.BetaExpires = &exp
	}
	return &a
}
