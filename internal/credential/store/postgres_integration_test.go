//go:build integration

package store_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vericred/internal/credential/models"
	"vericred/internal/credential/store"
	identityModels "vericred/internal/identity/models"
	identitystore "vericred/internal/identity/store"
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

func (s *PostgresStoreSuite) newCredential(issuer, holder *identityModels.Identity, subjectDID string) *models.Credential {
	var issuerID, holderID *id.IdentityID
	issuerDID := "did:web:external.example"
	if issuer != nil {
		issuerID = &issuer.ID
		issuerDID = issuer.DID
	}
	if holder != nil {
		holderID = &holder.ID
	}
	credential, err := models.NewCredential(id.NewCredentialID(), "UniversityDegree",
		issuerID, holderID, issuerDID, subjectDID,
		models.Claims{"degree": "BSc", "year": float64(2024)},
		nil, models.Proof{"type": "WalletSignature2024"}, time.Now())
	s.Require().NoError(err)
	return credential
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	issuer := s.seedIdentity(identityModels.RoleIssuer)
	holder := s.seedIdentity(identityModels.RoleHolder)
	credential := s.newCredential(issuer, holder, holder.DID)

	s.Require().NoError(s.store.Create(ctx, credential))

	found, err := s.store.FindByID(ctx, credential.ID)
	s.Require().NoError(err)
	s.Equal(credential.ID, found.ID)
	s.Equal(models.StatusActive, found.Status)
	s.Equal(credential.Claims, found.Claims, "claims survive the jsonb round trip")
	s.Require().NotNil(found.IssuerID)
	s.Equal(issuer.ID, *found.IssuerID)
	s.Require().NotNil(found.HolderID)
	s.Equal(holder.ID, *found.HolderID)
}

func (s *PostgresStoreSuite) TestImportedCredentialHasNoIssuerRow() {
	ctx := context.Background()
	holder := s.seedIdentity(identityModels.RoleHolder)
	credential := s.newCredential(nil, holder, holder.DID)

	s.Require().NoError(s.store.Create(ctx, credential))

	found, err := s.store.FindByID(ctx, credential.ID)
	s.Require().NoError(err)
	s.Nil(found.IssuerID)
	s.Equal("did:web:external.example", found.IssuerDID)
}

func (s *PostgresStoreSuite) TestExecuteAppliesRevocation() {
	ctx := context.Background()
	issuer := s.seedIdentity(identityModels.RoleIssuer)
	holder := s.seedIdentity(identityModels.RoleHolder)
	credential := s.newCredential(issuer, holder, holder.DID)
	s.Require().NoError(s.store.Create(ctx, credential))

	now := time.Now()
	updated, err := s.store.Execute(ctx, credential.ID,
		func(c *models.Credential) error { return c.CanRevoke() },
		func(c *models.Credential) { c.ApplyRevocation(now) })
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, updated.Status)
	s.NotNil(updated.RevokedAt)

	found, err := s.store.FindByID(ctx, credential.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, found.Status)
}

func (s *PostgresStoreSuite) TestExecuteValidationFailureLeavesRowUntouched() {
	ctx := context.Background()
	issuer := s.seedIdentity(identityModels.RoleIssuer)
	holder := s.seedIdentity(identityModels.RoleHolder)
	credential := s.newCredential(issuer, holder, holder.DID)
	s.Require().NoError(s.store.Create(ctx, credential))

	wantErr := sentinel.ErrConflict
	_, err := s.store.Execute(ctx, credential.ID,
		func(*models.Credential) error { return wantErr },
		func(c *models.Credential) { c.Status = models.StatusRevoked })
	s.ErrorIs(err, wantErr)

	found, err := s.store.FindByID(ctx, credential.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, found.Status, "a failed validate must not leak the mutation")
}

func (s *PostgresStoreSuite) TestConcurrentRevokeSingleWinner() {
	ctx := context.Background()
	issuer := s.seedIdentity(identityModels.RoleIssuer)
	holder := s.seedIdentity(identityModels.RoleHolder)
	credential := s.newCredential(issuer, holder, holder.DID)
	s.Require().NoError(s.store.Create(ctx, credential))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, credential.ID,
				func(c *models.Credential) error { return c.CanRevoke() },
				func(c *models.Credential) { c.ApplyRevocation(time.Now()) })
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "row lock serializes revokes; only the first passes CanRevoke")
}

func (s *PostgresStoreSuite) TestExecuteMissingRow() {
	_, err := s.store.Execute(context.Background(), id.NewCredentialID(),
		func(*models.Credential) error { return nil },
		func(*models.Credential) {})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListForHolderMatchesLinkOrSubjectDID() {
	ctx := context.Background()
	issuer := s.seedIdentity(identityModels.RoleIssuer)
	holder := s.seedIdentity(identityModels.RoleHolder)
	other := s.seedIdentity(identityModels.RoleHolder)

	linked := s.newCredential(issuer, holder, holder.DID)
	unlinked := s.newCredential(issuer, nil, holder.DID)
	foreign := s.newCredential(issuer, other, other.DID)
	for _, credential := range []*models.Credential{linked, unlinked, foreign} {
		s.Require().NoError(s.store.Create(ctx, credential))
	}

	held, err := s.store.ListForHolder(ctx, holder.ID, holder.DID)
	s.Require().NoError(err)
	s.Len(held, 2, "holder sees linked rows plus rows addressed to their DID")
}

func (s *PostgresStoreSuite) TestCountBySubjectDID() {
	ctx := context.Background()
	issuer := s.seedIdentity(identityModels.RoleIssuer)
	holder := s.seedIdentity(identityModels.RoleHolder)

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Create(ctx, s.newCredential(issuer, holder, holder.DID)))
	}

	count, err := s.store.CountBySubjectDID(ctx, holder.DID)
	s.Require().NoError(err)
	s.Equal(3, count)

	listed, err := s.store.ListBySubjectDID(ctx, holder.DID)
	s.Require().NoError(err)
	s.Len(listed, 3)
}
