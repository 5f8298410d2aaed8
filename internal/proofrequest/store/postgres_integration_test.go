//go:build integration

package store_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	identityModels "vericred/internal/identity/models"
	identitystore "vericred/internal/identity/store"
	"vericred/internal/proofrequest/models"
	"vericred/internal/proofrequest/store"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	store      *store.PostgresStore
	identities *identitystore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.identities = identitystore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"proof_responses", "proof_requests", "credentials", "credential_templates", "identities")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedIdentity(role identityModels.Role) *identityModels.Identity {
	wallet := strings.ReplaceAll(strings.ReplaceAll(uuid.NewString(), "-", ""), "0", "x")
	identity, err := identityModels.NewIdentity(id.NewIdentityID(), wallet, role, time.Now())
	s.Require().NoError(err)
	stored, _, err := s.identities.Upsert(context.Background(), identity)
	s.Require().NoError(err)
	return stored
}

func (s *PostgresStoreSuite) newRequest(verifierID id.IdentityID, targets []string, expiresIn time.Duration) *models.ProofRequest {
	now := time.Now()
	expiresAt := now.Add(expiresIn)
	request, err := models.NewProofRequest(id.NewProofRequestID(), verifierID,
		[]string{"UniversityDegree", "DriversLicense"}, targets, "kyc screening", "", &expiresAt, now)
	s.Require().NoError(err)
	return request
}

func (s *PostgresStoreSuite) TestRequestRoundTrip() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	request := s.newRequest(verifier.ID, []string{"did:cred:target1", "did:cred:target2"}, time.Hour)

	s.Require().NoError(s.store.CreateRequest(ctx, request))

	found, err := s.store.FindRequestByID(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(request.ID, found.ID)
	s.Equal(request.VerifierID, found.VerifierID)
	s.Equal([]string{"UniversityDegree", "DriversLicense"}, found.RequestedTypes)
	s.Equal([]string{"did:cred:target1", "did:cred:target2"}, found.TargetHolders)
	s.Equal("kyc screening", found.Title)
	s.Equal(models.RequestActive, found.Status)
	s.Require().NotNil(found.ExpiresAt)
}

func (s *PostgresStoreSuite) TestRequestWithoutExpiryRoundTrip() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	request, err := models.NewProofRequest(id.NewProofRequestID(), verifier.ID,
		[]string{"UniversityDegree"}, nil, "standing offer", "", nil, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	found, err := s.store.FindRequestByID(ctx, request.ID)
	s.Require().NoError(err)
	s.Nil(found.ExpiresAt)

	open, err := s.store.ListOpenRequests(ctx, time.Now().Add(24*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(open, 1, "a NULL expiry never falls out of the open set")
	s.Equal(request.ID, open[0].ID)
}

func (s *PostgresStoreSuite) TestBroadcastStoresEmptyTargetList() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	request := s.newRequest(verifier.ID, nil, time.Hour)

	s.Require().NoError(s.store.CreateRequest(ctx, request))

	found, err := s.store.FindRequestByID(ctx, request.ID)
	s.Require().NoError(err)
	s.True(found.IsBroadcast())
}

func (s *PostgresStoreSuite) TestListOpenRequestsExcludesExpiredAndCompleted() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)

	open := s.newRequest(verifier.ID, nil, time.Hour)
	expired := s.newRequest(verifier.ID, nil, time.Millisecond)
	completed := s.newRequest(verifier.ID, nil, time.Hour)
	for _, request := range []*models.ProofRequest{open, expired, completed} {
		s.Require().NoError(s.store.CreateRequest(ctx, request))
	}
	s.Require().NoError(s.store.MarkRequestCompleted(ctx, completed.ID))

	time.Sleep(5 * time.Millisecond)
	found, err := s.store.ListOpenRequests(ctx, time.Now())
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(open.ID, found[0].ID)
}

func (s *PostgresStoreSuite) TestMarkRequestCompletedMissingRow() {
	err := s.store.MarkRequestCompleted(context.Background(), id.NewProofRequestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestResponseRoundTrip() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	holder := s.seedIdentity(identityModels.RoleHolder)
	request := s.newRequest(verifier.ID, nil, time.Hour)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	credentialIDs := []id.CredentialID{id.NewCredentialID(), id.NewCredentialID()}
	proofData := models.ProofData{"disclosure": "degree-only"}
	response, err := models.NewProofResponse(id.NewProofResponseID(), request.ID,
		holder.ID, credentialIDs, proofData, false, "presented", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateResponse(ctx, response))

	found, err := s.store.FindResponseByID(ctx, response.ID)
	s.Require().NoError(err)
	s.Equal(credentialIDs, found.CredentialIDs, "credential ids survive the text[] round trip")
	s.Equal(proofData, found.ProofData, "proof data survives the jsonb round trip")
	s.Equal(models.ResponsePending, found.Status)
	s.Nil(found.ReviewedAt)

	respondedTo, err := s.store.ListRequestIDsRespondedBy(ctx, holder.ID)
	s.Require().NoError(err)
	s.Equal([]id.ProofRequestID{request.ID}, respondedTo)
}

func (s *PostgresStoreSuite) TestConcurrentDuplicateResponses() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	holder := s.seedIdentity(identityModels.RoleHolder)
	request := s.newRequest(verifier.ID, nil, time.Hour)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			response, err := models.NewProofResponse(id.NewProofResponseID(), request.ID,
				holder.ID, nil, nil, true, "", time.Now())
			if err != nil {
				return
			}
			switch err := s.store.CreateResponse(ctx, response); {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "the unique index admits exactly one response per holder")
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *PostgresStoreSuite) TestUpdateResponseRecordsDecision() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	holder := s.seedIdentity(identityModels.RoleHolder)
	request := s.newRequest(verifier.ID, nil, time.Hour)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	response, err := models.NewProofResponse(id.NewProofResponseID(), request.ID,
		holder.ID, []id.CredentialID{id.NewCredentialID()}, nil, false, "", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateResponse(ctx, response))

	s.Require().NoError(response.Decide(models.ResponseAccepted, time.Now()))
	s.Require().NoError(s.store.UpdateResponse(ctx, response))

	found, err := s.store.FindResponseByID(ctx, response.ID)
	s.Require().NoError(err)
	s.Equal(models.ResponseAccepted, found.Status)
	s.NotNil(found.ReviewedAt)
}

func (s *PostgresStoreSuite) TestUpdateResponseAlreadyDecidedConflicts() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	holder := s.seedIdentity(identityModels.RoleHolder)
	request := s.newRequest(verifier.ID, nil, time.Hour)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	response, err := models.NewProofResponse(id.NewProofResponseID(), request.ID,
		holder.ID, []id.CredentialID{id.NewCredentialID()}, nil, false, "", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateResponse(ctx, response))

	s.Require().NoError(response.Decide(models.ResponseAccepted, time.Now()))
	s.Require().NoError(s.store.UpdateResponse(ctx, response))

	rewrite := *response
	rewrite.Status = models.ResponseRejected
	err = s.store.UpdateResponse(ctx, &rewrite)
	s.ErrorIs(err, sentinel.ErrConflict, "the guarded update refuses a second decision")

	found, err := s.store.FindResponseByID(ctx, response.ID)
	s.Require().NoError(err)
	s.Equal(models.ResponseAccepted, found.Status, "the first decision stands")
}

func (s *PostgresStoreSuite) TestListRequestsByVerifierOrdersNewestFirst() {
	ctx := context.Background()
	verifier := s.seedIdentity(identityModels.RoleVerifier)
	other := s.seedIdentity(identityModels.RoleVerifier)

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.CreateRequest(ctx, s.newRequest(verifier.ID, nil, time.Hour)))
		time.Sleep(2 * time.Millisecond)
	}
	s.Require().NoError(s.store.CreateRequest(ctx, s.newRequest(other.ID, nil, time.Hour)))

	requests, err := s.store.ListRequestsByVerifier(ctx, verifier.ID)
	s.Require().NoError(err)
	s.Require().Len(requests, 3)
	s.True(requests[0].CreatedAt.After(requests[2].CreatedAt))
}
