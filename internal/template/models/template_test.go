package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
)

func validSchema() Schema {
	return Schema{
		Properties: map[string]Property{
			"degree": {Type: "string", Title: "Degree"},
			"year":   {Type: "number"},
		},
		Required: []string{"degree"},
	}
}

func TestValidateSchema(t *testing.T) {
	require.NoError(t, ValidateSchema(validSchema()))
}

func TestValidateSchemaRejectsEmptyProperties(t *testing.T) {
	err := ValidateSchema(Schema{Properties: map[string]Property{}})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestValidateSchemaRejectsUntypedProperty(t *testing.T) {
	schema := validSchema()
	schema.Properties["untyped"] = Property{Title: "No type"}
	assert.Error(t, ValidateSchema(schema))
}

func TestValidateSchemaRejectsRequiredOutsideProperties(t *testing.T) {
	schema := validSchema()
	schema.Required = append(schema.Required, "ghost")
	err := ValidateSchema(schema)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestNewCredentialTemplateRequiresName(t *testing.T) {
	_, err := NewCredentialTemplate(id.NewTemplateID(), "", "education", "",
		validSchema(), id.NewIdentityID(), time.Now())
	assert.Error(t, err)
}

func TestMissingRequiredClaims(t *testing.T) {
	template, err := NewCredentialTemplate(id.NewTemplateID(), "UniversityDegree", "education", "",
		validSchema(), id.NewIdentityID(), time.Now())
	require.NoError(t, err)

	assert.Empty(t, template.MissingRequiredClaims(map[string]any{"degree": "BSc"}))
	assert.Equal(t, []string{"degree"}, template.MissingRequiredClaims(map[string]any{"year": 2024}))
	assert.Equal(t, []string{"degree"}, template.MissingRequiredClaims(nil))
}
