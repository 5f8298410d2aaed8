package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vericred/internal/identity/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/requestcontext"
)

// PostgresStore persists identities in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `id, wallet_address, did, role, display_name, created_at, updated_at`

// Upsert inserts the identity or, when the wallet address already exists,
// touches updated_at without changing any other column. Single atomic
// statement; (xmax = 0) distinguishes insert from update on the returned row.
func (s *PostgresStore) Upsert(ctx context.Context, identity *models.Identity) (*models.Identity, bool, error) {
	query := `
		INSERT INTO identities (id, wallet_address, did, role, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (wallet_address) DO UPDATE SET
			updated_at = EXCLUDED.updated_at
		RETURNING ` + identityColumns + `, (xmax = 0) AS inserted
	`
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(identity.ID),
		identity.WalletAddress,
		identity.DID,
		string(identity.Role),
		identity.DisplayName,
		requestcontext.Now(ctx),
	)

	var stored models.Identity
	var rawID uuid.UUID
	var role string
	var inserted bool
	err := row.Scan(&rawID, &stored.WalletAddress, &stored.DID, &role,
		&stored.DisplayName, &stored.CreatedAt, &stored.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("upsert identity: %w", err)
	}
	stored.ID = id.IdentityID(rawID)
	stored.Role = models.Role(role)
	return &stored, inserted, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(identityID)), "find identity by id")
}

func (s *PostgresStore) FindByWalletAddress(ctx context.Context, walletAddress string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE wallet_address = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, walletAddress), "find identity by wallet")
}

func (s *PostgresStore) FindByDID(ctx context.Context, did string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE did = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, did), "find identity by did")
}

func (s *PostgresStore) ListByRole(ctx context.Context, role models.Role) ([]*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE role = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("list identities by role: %w", err)
	}
	defer rows.Close()

	var out []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("list identities by role: %w", err)
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanOne(row *sql.Row, op string) (*models.Identity, error) {
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return identity, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*models.Identity, error) {
	var identity models.Identity
	var rawID uuid.UUID
	var role string
	err := row.Scan(&rawID, &identity.WalletAddress, &identity.DID, &role,
		&identity.DisplayName, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	identity.ID = id.IdentityID(rawID)
	identity.Role = models.Role(role)
	return &identity, nil
}
