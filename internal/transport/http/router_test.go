package httptransport_test

import (
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	credentialhandler "vericred/internal/credential/handler"
	credentialservice "vericred/internal/credential/service"
	credentialstore "vericred/internal/credential/store"
	identityhandler "vericred/internal/identity/handler"
	identityservice "vericred/internal/identity/service"
	identitystore "vericred/internal/identity/store"
	"vericred/internal/platform/metrics"
	"vericred/internal/ratelimit"
	proofhandler "vericred/internal/proofrequest/handler"
	proofservice "vericred/internal/proofrequest/service"
	proofstore "vericred/internal/proofrequest/store"
	templatehandler "vericred/internal/template/handler"
	templateservice "vericred/internal/template/service"
	templatestore "vericred/internal/template/store"
	httptransport "vericred/internal/transport/http"
	verificationhandler "vericred/internal/verification/handler"
	verificationservice "vericred/internal/verification/service"
	"vericred/pkg/platform/audit"
	"vericred/pkg/testutil"
)

var testMetrics = metrics.New()

const (
	issuerWallet   = "4Nd1mYvoEPgZ6LCMovVZHHxqPvNQEHSv1UDhYrehxi3N"
	holderWallet   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	verifierWallet = "So11111111111111111111111111111111111111112"
)

// newTestRouter wires the full HTTP surface over in-memory stores.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	publisher := audit.NewPublisher(audit.NewMemoryStore())

	limiter := ratelimit.New(ratelimit.NewMemoryAttemptStore(), logger, 100, 15*time.Minute, time.Minute)
	tokens := identityservice.NewTokenService("router-test-key", "vericred-test", time.Hour)

	// Credential issuance resolves holders through the same store the
	// identity service writes to.
	identityStore := identitystore.NewMemory()
	identities := identityservice.New(identityStore, limiter,
		identityservice.AcceptAllSignatures{}, tokens, publisher, testMetrics, logger)

	templates := templateservice.New(templatestore.NewMemory(), logger)
	credentials := credentialservice.New(credentialstore.NewMemory(), identityStore,
		templates, publisher, testMetrics, logger)

	verification := verificationservice.New(credentials, verificationservice.PassthroughProofs{},
		verificationservice.OpenTrustRegistry{}, verificationservice.AssumeAnchored{}, testMetrics, logger)

	proofStore := proofstore.NewMemory()
	proofs := proofservice.New(proofStore, proofservice.NewShardedTx(proofStore),
		templates, credentials, publisher, testMetrics, logger)

	return httptransport.NewRouter(httptransport.Deps{
		Identity:       identityhandler.New(identities, logger),
		Verification:   verificationhandler.New(verification, logger),
		Templates:      templatehandler.New(templates, logger),
		Credentials:    credentialhandler.New(credentials, identities, logger),
		Proofs:         proofhandler.New(proofs, identities, logger),
		TokenValidator: tokens,
		Metrics:        testMetrics,
		Logger:         logger,
	})
}

type authResult struct {
	User struct {
		ID  string `json:"id"`
		DID string `json:"did"`
	} `json:"user"`
	Token string `json:"token"`
}

func authenticate(t *testing.T, router http.Handler, wallet, role string) *authResult {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/auth", map[string]any{
		"walletAddress": wallet,
		"signature":     "c2lnbmVkLW5vbmNl",
		"role":          role,
	})
	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	return testutil.UnmarshalResponse[authResult](t, rr)
}

func doAuthed(t *testing.T, token, method, path string, body any) *http.Request {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/credentials", nil))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	req := testutil.NewJSONRequest(t, http.MethodGet, "/credentials", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestIssueRequiresIssuerRole(t *testing.T) {
	router := newTestRouter(t)
	holder := authenticate(t, router, holderWallet, "HOLDER")

	req := doAuthed(t, holder.Token, http.MethodPost, "/credentials/issue", map[string]any{
		"type":       "UniversityDegree",
		"subjectDid": holder.User.DID,
	})
	rr := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}

func TestFullProofLifecycle(t *testing.T) {
	router := newTestRouter(t)

	issuer := authenticate(t, router, issuerWallet, "ISSUER")
	holder := authenticate(t, router, holderWallet, "HOLDER")
	verifier := authenticate(t, router, verifierWallet, "VERIFIER")

	// Issuer registers the credential type.
	rr := testutil.DoRequest(router, doAuthed(t, issuer.Token, http.MethodPost, "/templates", map[string]any{
		"name":     "UniversityDegree",
		"category": "education",
		"schema": map[string]any{
			"properties": map[string]any{"degree": map[string]any{"type": "string"}},
			"required":   []string{"degree"},
		},
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	// Issuer issues a credential to the holder.
	rr = testutil.DoRequest(router, doAuthed(t, issuer.Token, http.MethodPost, "/credentials/issue", map[string]any{
		"type":       "UniversityDegree",
		"subjectDid": holder.User.DID,
		"claims":     map[string]any{"degree": "BSc"},
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	credential := testutil.UnmarshalResponse[struct {
		ID string `json:"id"`
	}](t, rr)

	// The holder sees it in their wallet.
	rr = testutil.DoRequest(router, doAuthed(t, holder.Token, http.MethodGet, "/credentials", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	held := testutil.UnmarshalResponse[[]map[string]any](t, rr)
	require.Len(t, *held, 1)

	// Verifier broadcasts a proof request.
	rr = testutil.DoRequest(router, doAuthed(t, verifier.Token, http.MethodPost, "/proof-requests", map[string]any{
		"requestedTypes": []string{"UniversityDegree"},
		"title":          "employment check",
		"description":    "degree verification for hiring",
		"expiresAt":      time.Now().Add(time.Hour).Format(time.RFC3339),
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	request := testutil.UnmarshalResponse[struct {
		ID string `json:"id"`
	}](t, rr)

	// The holder finds it and responds with the credential.
	rr = testutil.DoRequest(router, doAuthed(t, holder.Token, http.MethodGet, "/proof-requests/available", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	available := testutil.UnmarshalResponse[[]map[string]any](t, rr)
	require.Len(t, *available, 1)

	rr = testutil.DoRequest(router, doAuthed(t, holder.Token, http.MethodPost, "/proof-responses", map[string]any{
		"proofRequestId":       request.ID,
		"presentedCredentials": []string{credential.ID},
		"proofData":            map[string]any{"disclosure": "degree-only"},
	}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	response := testutil.UnmarshalResponse[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rr)
	assert.Equal(t, "PENDING", response.Status)

	// Verifier reviews and accepts.
	rr = testutil.DoRequest(router, doAuthed(t, verifier.Token, http.MethodPatch,
		"/proof-responses/"+response.ID, map[string]any{"status": "ACCEPTED"}))
	testutil.AssertStatus(t, rr, http.StatusOK)
	decided := testutil.UnmarshalResponse[struct {
		Status string `json:"status"`
	}](t, rr)
	assert.Equal(t, "ACCEPTED", decided.Status)

	// Anyone can verify the subject's standing without a token.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/credentials/verify", map[string]any{
		"holderDid": holder.User.DID,
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)
	verdict := testutil.UnmarshalResponse[struct {
		Verified bool `json:"verified"`
		Score    int  `json:"score"`
	}](t, rr)
	assert.True(t, verdict.Verified)
	assert.Equal(t, 100, verdict.Score)

	// Revocation flips the verdict.
	rr = testutil.DoRequest(router, doAuthed(t, issuer.Token, http.MethodPost,
		"/credentials/"+credential.ID+"/revoke", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/credentials/verify", map[string]any{
		"holderDid": holder.User.DID,
	}))
	testutil.AssertStatus(t, rr, http.StatusOK)
	verdict = testutil.UnmarshalResponse[struct {
		Verified bool `json:"verified"`
		Score    int  `json:"score"`
	}](t, rr)
	assert.False(t, verdict.Verified, "revocation is visible to verification immediately")
}

func TestHolderRoutesRequireHolderRole(t *testing.T) {
	router := newTestRouter(t)
	verifier := authenticate(t, router, verifierWallet, "VERIFIER")

	rr := testutil.DoRequest(router, doAuthed(t, verifier.Token, http.MethodGet, "/proof-requests/available", nil))
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = testutil.DoRequest(router, doAuthed(t, verifier.Token, http.MethodPost, "/proof-responses", map[string]any{
		"proofRequestId": "00000000-0000-0000-0000-000000000000",
	}))
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}

func TestVerifyUnknownDIDNotFound(t *testing.T) {
	router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/credentials/verify", map[string]any{
		"holderDid": "did:cred:nobody",
	}))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestVerifyRejectsEmptyRequest(t *testing.T) {
	router := newTestRouter(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/credentials/verify", map[string]any{}))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}
