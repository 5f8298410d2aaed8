package store

import (
	"context"
	"sync"

	"vericred/internal/identity/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/requestcontext"
)

// MemoryStore keeps identities in memory, keyed by id with a wallet-address
// index. The single mutex makes Upsert atomic under concurrent callers.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[id.IdentityID]*models.Identity
	byWallet map[string]id.IdentityID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[id.IdentityID]*models.Identity),
		byWallet: make(map[string]id.IdentityID),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, identity *models.Identity) (*models.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byWallet[identity.WalletAddress]; ok {
		existing := s.byID[existingID]
		existing.UpdatedAt = requestcontext.Now(ctx)
		return copyIdentity(existing), false, nil
	}

	stored := copyIdentity(identity)
	s.byID[stored.ID] = stored
	s.byWallet[stored.WalletAddress] = stored.ID
	return copyIdentity(stored), true, nil
}

func (s *MemoryStore) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyIdentity(identity), nil
}

func (s *MemoryStore) FindByWalletAddress(_ context.Context, walletAddress string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identityID, ok := s.byWallet[walletAddress]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyIdentity(s.byID[identityID]), nil
}

func (s *MemoryStore) FindByDID(_ context.Context, did string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, identity := range s.byID {
		if identity.DID == did {
			return copyIdentity(identity), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) ListByRole(_ context.Context, role models.Role) ([]*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Identity
	for _, identity := range s.byID {
		if identity.Role == role {
			out = append(out, copyIdentity(identity))
		}
	}
	return out, nil
}

func copyIdentity(identity *models.Identity) *models.Identity {
	clone := *identity
	return &clone
}
