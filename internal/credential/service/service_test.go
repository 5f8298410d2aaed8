package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vericred/internal/credential/models"
	"vericred/internal/credential/store"
	identityModels "vericred/internal/identity/models"
	identitystore "vericred/internal/identity/store"
	"vericred/internal/platform/metrics"
	templateservice "vericred/internal/template/service"
	templatestore "vericred/internal/template/store"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/platform/audit"
	"vericred/pkg/requestcontext"
)

var testMetrics = metrics.New()

const (
	issuerWallet = "4Nd1mYvoEPgZ6LCMovVZHHxqPvNQEHSv1UDhYrehxi3N"
	holderWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

type fixture struct {
	svc       *Service
	templates *templateservice.Service
	issuer    *identityModels.Identity
	holder    *identityModels.Identity
	audit     *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	auditStore := audit.NewMemoryStore()

	identityStore := identitystore.NewMemory()
	issuer, err := identityModels.NewIdentity(id.NewIdentityID(), issuerWallet, identityModels.RoleIssuer, time.Now())
	require.NoError(t, err)
	holder, err := identityModels.NewIdentity(id.NewIdentityID(), holderWallet, identityModels.RoleHolder, time.Now())
	require.NoError(t, err)
	ctx := context.Background()
	_, _, err = identityStore.Upsert(ctx, issuer)
	require.NoError(t, err)
	_, _, err = identityStore.Upsert(ctx, holder)
	require.NoError(t, err)

	templates := templateservice.New(templatestore.NewMemory(), logger)

	svc := New(store.NewMemory(), identityStore, templates,
		audit.NewPublisher(auditStore), testMetrics, logger)
	return &fixture{svc: svc, templates: templates, issuer: issuer, holder: holder, audit: auditStore}
}

func ctxAt(now time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), now)
}

func TestIssueLinksKnownHolder(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	credential, err := f.svc.Issue(ctxAt(now), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
		Claims:     models.Claims{"degree": "BSc"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, credential.Status)
	assert.Equal(t, f.issuer.DID, credential.IssuerDID)
	require.NotNil(t, credential.HolderID)
	assert.Equal(t, f.holder.ID, *credential.HolderID)
	require.NotNil(t, credential.IssuerID)
	assert.Equal(t, f.issuer.ID, *credential.IssuerID)
	assert.NotEmpty(t, credential.Proof)
}

func TestIssueToUnknownSubjectLeavesHolderUnset(t *testing.T) {
	f := newFixture(t)

	credential, err := f.svc.Issue(ctxAt(time.Now()), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: "did:cred:BPFLoaderUpgradeab1e11111111111111111111111",
		Claims:     models.Claims{},
	})
	require.NoError(t, err)
	assert.Nil(t, credential.HolderID, "unknown subjects stay unlinked until they authenticate")
}

func TestIssueRequiresIssuerRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Issue(ctxAt(time.Now()), f.holder, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestIssueRejectsPastExpiry(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	past := now.Add(-time.Hour)

	_, err := f.svc.Issue(ctxAt(now), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
		ExpiresAt:  &past,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestRevokeByIssuer(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	credential, err := f.svc.Issue(ctxAt(now), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
	})
	require.NoError(t, err)

	revoked, err := f.svc.Revoke(ctxAt(now), f.issuer.ID, credential.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
}

func TestRevokeTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	credential, err := f.svc.Issue(ctxAt(now), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
	})
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctxAt(now), f.issuer.ID, credential.ID)
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctxAt(now), f.issuer.ID, credential.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation), "second revoke is a conflict, not a no-op")
}

func TestRevokeByNonIssuerForbidden(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	credential, err := f.svc.Issue(ctxAt(now), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
	})
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctxAt(now), f.holder.ID, credential.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestRevokeMissingCredentialNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Revoke(ctxAt(time.Now()), f.issuer.ID, id.NewCredentialID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestExpiryIsDerivedAtReadTime(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	soon := now.Add(time.Hour)

	_, err := f.svc.Issue(ctxAt(now), f.issuer, IssueInput{
		Type:       "UniversityDegree",
		SubjectDID: f.holder.DID,
		ExpiresAt:  &soon,
	})
	require.NoError(t, err)

	before, err := f.svc.ListForHolder(ctxAt(now.Add(30*time.Minute)), f.holder)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.False(t, before[0].IsExpired)
	assert.Equal(t, models.StatusActive, before[0].Status)

	after, err := f.svc.ListForHolder(ctxAt(now.Add(2*time.Hour)), f.holder)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].IsExpired, "expiry derives from the request clock")
	assert.Equal(t, models.StatusActive, after[0].Status, "stored status is never rewritten by reads")
}

func TestListIssuedBy(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Issue(ctxAt(now.Add(time.Duration(i)*time.Second)), f.issuer, IssueInput{
			Type:       "UniversityDegree",
			SubjectDID: f.holder.DID,
		})
		require.NoError(t, err)
	}

	views, err := f.svc.ListIssuedBy(ctxAt(now), f.issuer.ID)
	require.NoError(t, err)
	assert.Len(t, views, 3)
}

func TestImportExternalCredential(t *testing.T) {
	f := newFixture(t)
	doc := map[string]any{
		"type":      "ExternalBadge",
		"issuerDid": "did:web:issuer.example",
		"claims":    map[string]any{"level": "gold"},
		"proof":     map[string]any{"type": "Ed25519Signature2020", "jws": "eyJ..."},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	credential, err := f.svc.Import(ctxAt(time.Now()), f.holder, raw)
	require.NoError(t, err)

	assert.Nil(t, credential.IssuerID, "external issuers have no identity row")
	require.NotNil(t, credential.HolderID)
	assert.Equal(t, f.holder.ID, *credential.HolderID)
	assert.Equal(t, f.holder.DID, credential.SubjectDID, "subject defaults to the importer")
	assert.Equal(t, "did:web:issuer.example", credential.IssuerDID)

	held, err := f.svc.ListForHolder(ctxAt(time.Now()), f.holder)
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestImportRejectsMalformedDocuments(t *testing.T) {
	f := newFixture(t)

	cases := []string{
		`not json`,
		`{"issuerDid":"did:web:x"}`,
		`{"type":"Badge"}`,
	}
	for _, raw := range cases {
		_, err := f.svc.Import(ctxAt(time.Now()), f.holder, json.RawMessage(raw))
		assert.Error(t, err, "document %q should be rejected", raw)
	}
}

func TestLookupBySubjectDIDOrdersMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Issue(ctxAt(base.Add(time.Duration(i)*time.Minute)), f.issuer, IssueInput{
			Type:       "UniversityDegree",
			SubjectDID: f.holder.DID,
		})
		require.NoError(t, err)
	}

	credentials, total, err := f.svc.LookupBySubjectDID(context.Background(), f.holder.DID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, credentials, 3)
	assert.True(t, credentials[0].IssuedAt.After(credentials[1].IssuedAt))
	assert.True(t, credentials[1].IssuedAt.After(credentials[2].IssuedAt))
}
