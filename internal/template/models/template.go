package models

import (
	"time"

	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
)

// Property describes a single claim field in a template schema.
type Property struct {
	Type        string `json:"type"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema is the claim-field contract of a template: which fields a credential
// of this type carries and which of them are required. Drives dynamic claim
// form generation in dashboards and the proof-request claim-type catalogue.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// CredentialTemplate defines a credential type an issuer offers.
// Lifecycle: created/updated/deleted by its owning issuer only.
type CredentialTemplate struct {
	ID          id.TemplateID `json:"id"`
	Name        string        `json:"name"`
	Category    string        `json:"category,omitempty"`
	Description string        `json:"description,omitempty"`
	Schema      Schema        `json:"schema"`
	CreatedBy   id.IdentityID `json:"createdById"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewCredentialTemplate constructs a validated template.
func NewCredentialTemplate(templateID id.TemplateID, name, category, description string,
	schema Schema, createdBy id.IdentityID, now time.Time) (*CredentialTemplate, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "template name is required")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "template name must be 128 characters or less")
	}
	if err := ValidateSchema(schema); err != nil {
		return nil, err
	}
	return &CredentialTemplate{
		ID:          templateID,
		Name:        name,
		Category:    category,
		Description: description,
		Schema:      schema,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateSchema checks the structural shape of a template schema: a
// non-empty properties map with typed entries, and a required list that only
// names declared properties. Stateless; shared by the credential store and
// the proof request engine.
func ValidateSchema(schema Schema) error {
	if len(schema.Properties) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "schema must declare at least one property")
	}
	for name, prop := range schema.Properties {
		if name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "schema property names cannot be empty")
		}
		if prop.Type == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "schema property "+name+" is missing a type")
		}
	}
	for _, req := range schema.Required {
		if _, ok := schema.Properties[req]; !ok {
			return dErrors.New(dErrors.CodeInvalidInput, "required field "+req+" is not declared in properties")
		}
	}
	return nil
}

// MissingRequiredClaims returns the required fields absent from the claims
// map. Used for the lenient issue-time conformance check.
func (t *CredentialTemplate) MissingRequiredClaims(claims map[string]any) []string {
	var missing []string
	for _, req := range t.Schema.Required {
		if _, ok := claims[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}
