package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vericred/internal/template/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

// PostgresStore persists credential templates in PostgreSQL. The schema
// object is stored as a jsonb column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const templateColumns = `id, name, category, description, schema, created_by, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, template *models.CredentialTemplate) error {
	schemaBytes, err := json.Marshal(template.Schema)
	if err != nil {
		return fmt.Errorf("marshal template schema: %w", err)
	}
	query := `
		INSERT INTO credential_templates (id, name, category, description, schema, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(template.ID), template.Name, template.Category, template.Description,
		schemaBytes, uuid.UUID(template.CreatedBy), template.CreatedAt, template.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, template *models.CredentialTemplate) error {
	schemaBytes, err := json.Marshal(template.Schema)
	if err != nil {
		return fmt.Errorf("marshal template schema: %w", err)
	}
	query := `
		UPDATE credential_templates
		SET name = $2, category = $3, description = $4, schema = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(template.ID), template.Name, template.Category, template.Description,
		schemaBytes, template.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update template: %w", err)
	}
	return requireRowAffected(result, "update template")
}

func (s *PostgresStore) Delete(ctx context.Context, templateID id.TemplateID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM credential_templates WHERE id = $1`, uuid.UUID(templateID))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRowAffected(result, "delete template")
}

func (s *PostgresStore) FindByID(ctx context.Context, templateID id.TemplateID) (*models.CredentialTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM credential_templates WHERE id = $1`
	return scanTemplateRow(s.db.QueryRowContext(ctx, query, uuid.UUID(templateID)), "find template by id")
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.CredentialTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM credential_templates WHERE name = $1`
	return scanTemplateRow(s.db.QueryRowContext(ctx, query, name), "find template by name")
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.CredentialTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM credential_templates ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*models.CredentialTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, template)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM credential_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list template names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list template names: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanTemplateRow(row *sql.Row, op string) (*models.CredentialTemplate, error) {
	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return template, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*models.CredentialTemplate, error) {
	var template models.CredentialTemplate
	var rawID, rawCreatedBy uuid.UUID
	var schemaBytes []byte
	err := row.Scan(&rawID, &template.Name, &template.Category, &template.Description,
		&schemaBytes, &rawCreatedBy, &template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schemaBytes, &template.Schema); err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	template.ID = id.TemplateID(rawID)
	template.CreatedBy = id.IdentityID(rawCreatedBy)
	return &template, nil
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
