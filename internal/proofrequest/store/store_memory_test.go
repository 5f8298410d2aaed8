package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vericred/internal/proofrequest/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

func seedResponse(t *testing.T, s *MemoryStore) *models.ProofResponse {
	t.Helper()
	response, err := models.NewProofResponse(id.NewProofResponseID(), id.NewProofRequestID(),
		id.NewIdentityID(), []id.CredentialID{id.NewCredentialID()}, nil, false, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CreateResponse(context.Background(), response))
	return response
}

func TestMemoryUpdateResponseRecordsDecision(t *testing.T) {
	s := NewMemory()
	response := seedResponse(t, s)

	require.NoError(t, response.Decide(models.ResponseAccepted, time.Now()))
	require.NoError(t, s.UpdateResponse(context.Background(), response))

	found, err := s.FindResponseByID(context.Background(), response.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAccepted, found.Status)
}

func TestMemoryUpdateResponseAlreadyDecidedConflicts(t *testing.T) {
	s := NewMemory()
	response := seedResponse(t, s)

	require.NoError(t, response.Decide(models.ResponseAccepted, time.Now()))
	require.NoError(t, s.UpdateResponse(context.Background(), response))

	rewrite := *response
	rewrite.Status = models.ResponseRejected
	err := s.UpdateResponse(context.Background(), &rewrite)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	found, err := s.FindResponseByID(context.Background(), response.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAccepted, found.Status, "the first decision stands")
}

func TestMemoryUpdateResponseMissingRow(t *testing.T) {
	s := NewMemory()
	response, err := models.NewProofResponse(id.NewProofResponseID(), id.NewProofRequestID(),
		id.NewIdentityID(), nil, nil, true, "", time.Now())
	require.NoError(t, err)

	err = s.UpdateResponse(context.Background(), response)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
