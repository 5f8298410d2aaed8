package service

import (
	"context"
	"errors"
	"log/slog"

	"vericred/internal/template/models"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/requestcontext"
)

// Store persists credential templates.
type Store interface {
	Create(ctx context.Context, template *models.CredentialTemplate) error
	Update(ctx context.Context, template *models.CredentialTemplate) error
	Delete(ctx context.Context, templateID id.TemplateID) error
	FindByID(ctx context.Context, templateID id.TemplateID) (*models.CredentialTemplate, error)
	FindByName(ctx context.Context, name string) (*models.CredentialTemplate, error)
	ListAll(ctx context.Context) ([]*models.CredentialTemplate, error)
	ListNames(ctx context.Context) ([]string, error)
}

// Service owns the template lifecycle. Mutations are owner-gated: only the
// issuer that created a template may update or delete it.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateInput carries the template fields accepted from issuers.
type CreateInput struct {
	Name        string
	Category    string
	Description string
	Schema      models.Schema
}

func (s *Service) Create(ctx context.Context, issuerID id.IdentityID, in CreateInput) (*models.CredentialTemplate, error) {
	template, err := models.NewCredentialTemplate(id.NewTemplateID(), in.Name, in.Category,
		in.Description, in.Schema, issuerID, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, template); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a template with this name already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create template")
	}
	return template, nil
}

func (s *Service) Update(ctx context.Context, issuerID id.IdentityID, templateID id.TemplateID, in CreateInput) (*models.CredentialTemplate, error) {
	template, err := s.getOwned(ctx, issuerID, templateID)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		template.Name = in.Name
	}
	if in.Category != "" {
		template.Category = in.Category
	}
	if in.Description != "" {
		template.Description = in.Description
	}
	if len(in.Schema.Properties) > 0 {
		if err := models.ValidateSchema(in.Schema); err != nil {
			return nil, err
		}
		template.Schema = in.Schema
	}
	template.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.Update(ctx, template); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update template")
	}
	return template, nil
}

func (s *Service) Delete(ctx context.Context, issuerID id.IdentityID, templateID id.TemplateID) error {
	if _, err := s.getOwned(ctx, issuerID, templateID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, templateID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete template")
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]*models.CredentialTemplate, error) {
	templates, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list templates")
	}
	return templates, nil
}

// KnownTypeNames returns the names of all templates; this is the catalogue of
// claim types a proof request may ask for.
func (s *Service) KnownTypeNames(ctx context.Context) ([]string, error) {
	names, err := s.store.ListNames(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list template names")
	}
	return names, nil
}

// FindByName resolves a template by its name, or a not-found error.
func (s *Service) FindByName(ctx context.Context, name string) (*models.CredentialTemplate, error) {
	template, err := s.store.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "template not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load template")
	}
	return template, nil
}

func (s *Service) getOwned(ctx context.Context, issuerID id.IdentityID, templateID id.TemplateID) (*models.CredentialTemplate, error) {
	template, err := s.store.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "template not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load template")
	}
	if template.CreatedBy != issuerID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the owning issuer may modify this template")
	}
	return template, nil
}
