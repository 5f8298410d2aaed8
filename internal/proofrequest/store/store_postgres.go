package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vericred/internal/proofrequest/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same store code
// serves direct access and the transactional respond flow.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists proof requests and responses. Requested types and
// target holders are text[] columns; a unique index on (proof_request_id,
// holder_id) enforces one response per holder.
type PostgresStore struct {
	db querier
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

const requestColumns = `id, verifier_id, requested_types, target_holders, title, description, status, created_at, expires_at`
const responseColumns = `id, proof_request_id, holder_id, presented_credentials, proof_data, status, message, created_at, reviewed_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, request *models.ProofRequest) error {
	query := `
		INSERT INTO proof_requests (id, verifier_id, requested_types, target_holders, title, description, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(request.ID), uuid.UUID(request.VerifierID),
		pq.Array(request.RequestedTypes), pq.Array(request.TargetHolders),
		request.Title, request.Description, string(request.Status), request.CreatedAt, request.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create proof request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRequestByID(ctx context.Context, requestID id.ProofRequestID) (*models.ProofRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM proof_requests WHERE id = $1`
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find proof request: %w", err)
	}
	return request, nil
}

func (s *PostgresStore) ListRequestsByVerifier(ctx context.Context, verifierID id.IdentityID) ([]*models.ProofRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM proof_requests
		WHERE verifier_id = $1
		ORDER BY created_at DESC, id DESC`
	return s.listRequests(ctx, query, uuid.UUID(verifierID))
}

func (s *PostgresStore) ListOpenRequests(ctx context.Context, now time.Time) ([]*models.ProofRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM proof_requests
		WHERE status = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC, id DESC`
	return s.listRequests(ctx, query, string(models.RequestActive), now)
}

func (s *PostgresStore) MarkRequestCompleted(ctx context.Context, requestID id.ProofRequestID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE proof_requests SET status = $2 WHERE id = $1`,
		uuid.UUID(requestID), string(models.RequestCompleted))
	if err != nil {
		return fmt.Errorf("complete proof request: %w", err)
	}
	return requireRowAffected(result, "complete proof request")
}

func (s *PostgresStore) CreateResponse(ctx context.Context, response *models.ProofResponse) error {
	proofDataBytes, err := marshalProofData(response.ProofData)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO proof_responses (id, proof_request_id, holder_id, presented_credentials, proof_data, status, message, created_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(response.ID), uuid.UUID(response.ProofRequestID), uuid.UUID(response.HolderID),
		pq.Array(credentialIDStrings(response.CredentialIDs)), proofDataBytes,
		string(response.Status), response.Message, response.CreatedAt, response.ReviewedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create proof response: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindResponseByID(ctx context.Context, responseID id.ProofResponseID) (*models.ProofResponse, error) {
	query := `SELECT ` + responseColumns + ` FROM proof_responses WHERE id = $1`
	response, err := scanResponse(s.db.QueryRowContext(ctx, query, uuid.UUID(responseID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find proof response: %w", err)
	}
	return response, nil
}

// UpdateResponse persists a decision. The update only matches rows still
// PENDING: when a concurrent decision got there first, zero rows match and
// the caller sees ErrConflict.
func (s *PostgresStore) UpdateResponse(ctx context.Context, response *models.ProofResponse) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE proof_responses SET status = $2, reviewed_at = $3 WHERE id = $1 AND status = $4`,
		uuid.UUID(response.ID), string(response.Status), response.ReviewedAt,
		string(models.ResponsePending))
	if err != nil {
		return fmt.Errorf("update proof response: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proof response rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListResponsesByRequest(ctx context.Context, requestID id.ProofRequestID) ([]*models.ProofResponse, error) {
	query := `SELECT ` + responseColumns + ` FROM proof_responses
		WHERE proof_request_id = $1
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list proof responses: %w", err)
	}
	defer rows.Close()

	var out []*models.ProofResponse
	for rows.Next() {
		response, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("list proof responses: %w", err)
		}
		out = append(out, response)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRequestIDsRespondedBy(ctx context.Context, holderID id.IdentityID) ([]id.ProofRequestID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT proof_request_id FROM proof_responses WHERE holder_id = $1`, uuid.UUID(holderID))
	if err != nil {
		return nil, fmt.Errorf("list responded request ids: %w", err)
	}
	defer rows.Close()

	var out []id.ProofRequestID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("list responded request ids: %w", err)
		}
		out = append(out, id.ProofRequestID(raw))
	}
	return out, rows.Err()
}

func (s *PostgresStore) listRequests(ctx context.Context, query string, args ...any) ([]*models.ProofRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proof requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ProofRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list proof requests: %w", err)
		}
		out = append(out, request)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.ProofRequest, error) {
	var request models.ProofRequest
	var rawID, rawVerifier uuid.UUID
	var status string
	var requestedTypes, targetHolders pq.StringArray
	var expiresAt sql.NullTime
	err := row.Scan(&rawID, &rawVerifier, &requestedTypes, &targetHolders,
		&request.Title, &request.Description, &status, &request.CreatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	request.ID = id.ProofRequestID(rawID)
	request.VerifierID = id.IdentityID(rawVerifier)
	request.RequestedTypes = []string(requestedTypes)
	request.TargetHolders = []string(targetHolders)
	request.Status = models.RequestStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		request.ExpiresAt = &t
	}
	return &request, nil
}

func scanResponse(row scanner) (*models.ProofResponse, error) {
	var response models.ProofResponse
	var rawID, rawRequest, rawHolder uuid.UUID
	var status string
	var credentialIDs pq.StringArray
	var proofDataBytes []byte
	var reviewedAt sql.NullTime
	err := row.Scan(&rawID, &rawRequest, &rawHolder, &credentialIDs, &proofDataBytes,
		&status, &response.Message, &response.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	if len(proofDataBytes) > 0 {
		if err := json.Unmarshal(proofDataBytes, &response.ProofData); err != nil {
			return nil, fmt.Errorf("unmarshal proof data: %w", err)
		}
	}
	response.ID = id.ProofResponseID(rawID)
	response.ProofRequestID = id.ProofRequestID(rawRequest)
	response.HolderID = id.IdentityID(rawHolder)
	response.Status = models.ResponseStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		response.ReviewedAt = &t
	}
	parsed, err := parseCredentialIDs(credentialIDs)
	if err != nil {
		return nil, err
	}
	response.CredentialIDs = parsed
	return &response, nil
}

func marshalProofData(data models.ProofData) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal proof data: %w", err)
	}
	return dataBytes, nil
}

func credentialIDStrings(ids []id.CredentialID) []string {
	out := make([]string, 0, len(ids))
	for _, credentialID := range ids {
		out = append(out, credentialID.String())
	}
	return out
}

func parseCredentialIDs(raw pq.StringArray) ([]id.CredentialID, error) {
	out := make([]id.CredentialID, 0, len(raw))
	for _, value := range raw {
		parsed, err := uuid.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("parse stored credential id: %w", err)
		}
		out = append(out, id.CredentialID(parsed))
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRowAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
