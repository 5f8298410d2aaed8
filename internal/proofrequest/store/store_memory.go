package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"vericred/internal/proofrequest/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

// MemoryStore keeps proof requests and responses in memory. The (request,
// holder) pair is unique; a second response from the same holder conflicts.
type MemoryStore struct {
	mu            sync.RWMutex
	requests      map[id.ProofRequestID]*models.ProofRequest
	responses     map[id.ProofResponseID]*models.ProofResponse
	responseIndex map[responseKey]id.ProofResponseID
}

type responseKey struct {
	requestID id.ProofRequestID
	holderID  id.IdentityID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		requests:      make(map[id.ProofRequestID]*models.ProofRequest),
		responses:     make(map[id.ProofResponseID]*models.ProofResponse),
		responseIndex: make(map[responseKey]id.ProofResponseID),
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, request *models.ProofRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[request.ID] = copyRequest(request)
	return nil
}

func (s *MemoryStore) FindRequestByID(_ context.Context, requestID id.ProofRequestID) (*models.ProofRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRequest(request), nil
}

func (s *MemoryStore) ListRequestsByVerifier(_ context.Context, verifierID id.IdentityID) ([]*models.ProofRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProofRequest
	for _, request := range s.requests {
		if request.VerifierID == verifierID {
			out = append(out, copyRequest(request))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *MemoryStore) ListOpenRequests(_ context.Context, now time.Time) ([]*models.ProofRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProofRequest
	for _, request := range s.requests {
		if request.IsOpen(now) {
			out = append(out, copyRequest(request))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *MemoryStore) MarkRequestCompleted(_ context.Context, requestID id.ProofRequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	request.Status = models.RequestCompleted
	return nil
}

func (s *MemoryStore) CreateResponse(_ context.Context, response *models.ProofResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey{requestID: response.ProofRequestID, holderID: response.HolderID}
	if _, exists := s.responseIndex[key]; exists {
		return sentinel.ErrConflict
	}
	s.responses[response.ID] = copyResponse(response)
	s.responseIndex[key] = response.ID
	return nil
}

func (s *MemoryStore) FindResponseByID(_ context.Context, responseID id.ProofResponseID) (*models.ProofResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	response, ok := s.responses[responseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyResponse(response), nil
}

// UpdateResponse persists a decision. Only a stored row still PENDING may be
// rewritten; a row already decided conflicts.
func (s *MemoryStore) UpdateResponse(_ context.Context, response *models.ProofResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.responses[response.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Status != models.ResponsePending {
		return sentinel.ErrConflict
	}
	s.responses[response.ID] = copyResponse(response)
	return nil
}

func (s *MemoryStore) ListResponsesByRequest(_ context.Context, requestID id.ProofRequestID) ([]*models.ProofResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProofResponse
	for _, response := range s.responses {
		if response.ProofRequestID == requestID {
			out = append(out, copyResponse(response))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRequestIDsRespondedBy(_ context.Context, holderID id.IdentityID) ([]id.ProofRequestID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.ProofRequestID
	for key := range s.responseIndex {
		if key.holderID == holderID {
			out = append(out, key.requestID)
		}
	}
	return out, nil
}

func sortRequests(requests []*models.ProofRequest) {
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		}
		return requests[i].ID.String() > requests[j].ID.String()
	})
}

func copyRequest(request *models.ProofRequest) *models.ProofRequest {
	clone := *request
	clone.RequestedTypes = append([]string(nil), request.RequestedTypes...)
	clone.TargetHolders = append([]string(nil), request.TargetHolders...)
	if request.ExpiresAt != nil {
		t := *request.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}

func copyResponse(response *models.ProofResponse) *models.ProofResponse {
	clone := *response
	clone.CredentialIDs = append([]id.CredentialID(nil), response.CredentialIDs...)
	if response.ProofData != nil {
		clone.ProofData = make(models.ProofData, len(response.ProofData))
		for k, v := range response.ProofData {
			clone.ProofData[k] = v
		}
	}
	return &clone
}
