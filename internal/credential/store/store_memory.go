package store

import (
	"context"
	"sort"
	"sync"

	"vericred/internal/credential/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

// MemoryStore keeps credentials in memory. A single mutex guards every
// access; Execute holds it across validate and mutate so revocation is
// atomic with respect to concurrent revokes.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[id.CredentialID]*models.Credential
}

func NewMemory() *MemoryStore {
	return &MemoryStore{byID: make(map[id.CredentialID]*models.Credential)}
}

func (s *MemoryStore) Create(_ context.Context, credential *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[credential.ID]; exists {
		return sentinel.ErrConflict
	}
	s.byID[credential.ID] = copyCredential(credential)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.byID[credentialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyCredential(credential), nil
}

func (s *MemoryStore) Execute(_ context.Context, credentialID id.CredentialID,
	validate func(*models.Credential) error, mutate func(*models.Credential)) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.byID[credentialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(credential); err != nil {
		return nil, err
	}
	mutate(credential)
	return copyCredential(credential), nil
}

func (s *MemoryStore) ListForHolder(_ context.Context, holderID id.IdentityID, holderDID string) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, credential := range s.byID {
		if (credential.HolderID != nil && *credential.HolderID == holderID) || credential.SubjectDID == holderDID {
			out = append(out, copyCredential(credential))
		}
	}
	sortByIssuedAtDesc(out)
	return out, nil
}

func (s *MemoryStore) ListIssuedBy(_ context.Context, issuerID id.IdentityID) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, credential := range s.byID {
		if credential.IssuerID != nil && *credential.IssuerID == issuerID {
			out = append(out, copyCredential(credential))
		}
	}
	sortByIssuedAtDesc(out)
	return out, nil
}

func (s *MemoryStore) ListBySubjectDID(_ context.Context, subjectDID string) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, credential := range s.byID {
		if credential.SubjectDID == subjectDID {
			out = append(out, copyCredential(credential))
		}
	}
	sortByIssuedAtDesc(out)
	return out, nil
}

func (s *MemoryStore) CountBySubjectDID(_ context.Context, subjectDID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, credential := range s.byID {
		if credential.SubjectDID == subjectDID {
			count++
		}
	}
	return count, nil
}

// sortByIssuedAtDesc orders most recent first, credential id descending as a
// deterministic tiebreak.
func sortByIssuedAtDesc(credentials []*models.Credential) {
	sort.Slice(credentials, func(i, j int) bool {
		if !credentials[i].IssuedAt.Equal(credentials[j].IssuedAt) {
			return credentials[i].IssuedAt.After(credentials[j].IssuedAt)
		}
		return credentials[i].ID.String() > credentials[j].ID.String()
	})
}

func copyCredential(credential *models.Credential) *models.Credential {
	clone := *credential
	clone.Claims = make(models.Claims, len(credential.Claims))
	for k, v := range credential.Claims {
		clone.Claims[k] = v
	}
	if credential.Proof != nil {
		clone.Proof = make(models.Proof, len(credential.Proof))
		for k, v := range credential.Proof {
			clone.Proof[k] = v
		}
	}
	return &clone
}
