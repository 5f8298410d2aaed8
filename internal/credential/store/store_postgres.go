package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vericred/internal/credential/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

// PostgresStore persists credentials in PostgreSQL. Claims and proof are
// jsonb columns; issuer_id and holder_id are nullable uuids.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `id, type, issuer_id, holder_id, issuer_did, subject_did, claims, status, issued_at, expires_at, revoked_at, proof`

func (s *PostgresStore) Create(ctx context.Context, credential *models.Credential) error {
	claimsBytes, err := json.Marshal(credential.Claims)
	if err != nil {
		return fmt.Errorf("marshal credential claims: %w", err)
	}
	proofBytes, err := marshalProof(credential.Proof)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credentials (id, type, issuer_id, holder_id, issuer_did, subject_did, claims, status, issued_at, expires_at, revoked_at, proof)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(credential.ID), credential.Type,
		nullableID(credential.IssuerID), nullableID(credential.HolderID),
		credential.IssuerDID, credential.SubjectDID,
		claimsBytes, string(credential.Status),
		credential.IssuedAt, credential.ExpiresAt, credential.RevokedAt, proofBytes)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	credential, err := scanCredential(s.db.QueryRowContext(ctx, query, uuid.UUID(credentialID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credential by id: %w", err)
	}
	return credential, nil
}

// Execute loads the row FOR UPDATE inside a transaction, runs validate, and
// writes back the mutated status fields on success.
func (s *PostgresStore) Execute(ctx context.Context, credentialID id.CredentialID,
	validate func(*models.Credential) error, mutate func(*models.Credential)) (*models.Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credential tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1 FOR UPDATE`
	credential, err := scanCredential(tx.QueryRowContext(ctx, query, uuid.UUID(credentialID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load credential for update: %w", err)
	}

	if err := validate(credential); err != nil {
		return nil, err
	}
	mutate(credential)

	_, err = tx.ExecContext(ctx,
		`UPDATE credentials SET status = $2, revoked_at = $3, expires_at = $4 WHERE id = $1`,
		uuid.UUID(credential.ID), string(credential.Status), credential.RevokedAt, credential.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credential tx: %w", err)
	}
	return credential, nil
}

func (s *PostgresStore) ListForHolder(ctx context.Context, holderID id.IdentityID, holderDID string) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE holder_id = $1 OR subject_did = $2
		ORDER BY issued_at DESC, id DESC`
	return s.list(ctx, query, uuid.UUID(holderID), holderDID)
}

func (s *PostgresStore) ListIssuedBy(ctx context.Context, issuerID id.IdentityID) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE issuer_id = $1
		ORDER BY issued_at DESC, id DESC`
	return s.list(ctx, query, uuid.UUID(issuerID))
}

func (s *PostgresStore) ListBySubjectDID(ctx context.Context, subjectDID string) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE subject_did = $1
		ORDER BY issued_at DESC, id DESC`
	return s.list(ctx, query, subjectDID)
}

func (s *PostgresStore) CountBySubjectDID(ctx context.Context, subjectDID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM credentials WHERE subject_did = $1`, subjectDID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credentials by subject: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		out = append(out, credential)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.Credential, error) {
	var credential models.Credential
	var rawID uuid.UUID
	var rawIssuer, rawHolder uuid.NullUUID
	var status string
	var claimsBytes, proofBytes []byte
	var expiresAt, revokedAt sql.NullTime
	err := row.Scan(&rawID, &credential.Type, &rawIssuer, &rawHolder,
		&credential.IssuerDID, &credential.SubjectDID, &claimsBytes, &status,
		&credential.IssuedAt, &expiresAt, &revokedAt, &proofBytes)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(claimsBytes, &credential.Claims); err != nil {
		return nil, fmt.Errorf("unmarshal credential claims: %w", err)
	}
	if len(proofBytes) > 0 {
		if err := json.Unmarshal(proofBytes, &credential.Proof); err != nil {
			return nil, fmt.Errorf("unmarshal credential proof: %w", err)
		}
	}
	credential.ID = id.CredentialID(rawID)
	credential.Status = models.Status(status)
	if rawIssuer.Valid {
		issuerID := id.IdentityID(rawIssuer.UUID)
		credential.IssuerID = &issuerID
	}
	if rawHolder.Valid {
		holderID := id.IdentityID(rawHolder.UUID)
		credential.HolderID = &holderID
	}
	credential.ExpiresAt = nullTimePtr(expiresAt)
	credential.RevokedAt = nullTimePtr(revokedAt)
	return &credential, nil
}

func marshalProof(proof models.Proof) ([]byte, error) {
	if proof == nil {
		return nil, nil
	}
	proofBytes, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("marshal credential proof: %w", err)
	}
	return proofBytes, nil
}

func nullableID(identityID *id.IdentityID) any {
	if identityID == nil {
		return nil
	}
	return uuid.UUID(*identityID)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
