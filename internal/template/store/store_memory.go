package store

import (
	"context"
	"sort"
	"sync"

	"vericred/internal/template/models"
	id "vericred/pkg/domain"
	"vericred/pkg/platform/sentinel"
)

// MemoryStore keeps templates in memory with a name index. Template names
// are unique: they double as credential type identifiers.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[id.TemplateID]*models.CredentialTemplate
	byName map[string]id.TemplateID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[id.TemplateID]*models.CredentialTemplate),
		byName: make(map[string]id.TemplateID),
	}
}

func (s *MemoryStore) Create(_ context.Context, template *models.CredentialTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[template.Name]; exists {
		return sentinel.ErrConflict
	}
	stored := copyTemplate(template)
	s.byID[stored.ID] = stored
	s.byName[stored.Name] = stored.ID
	return nil
}

func (s *MemoryStore) Update(_ context.Context, template *models.CredentialTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[template.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.Name != template.Name {
		if _, taken := s.byName[template.Name]; taken {
			return sentinel.ErrConflict
		}
		delete(s.byName, existing.Name)
		s.byName[template.Name] = template.ID
	}
	s.byID[template.ID] = copyTemplate(template)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, templateID id.TemplateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[templateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byName, existing.Name)
	delete(s.byID, templateID)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, templateID id.TemplateID) (*models.CredentialTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	template, ok := s.byID[templateID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyTemplate(template), nil
}

func (s *MemoryStore) FindByName(_ context.Context, name string) (*models.CredentialTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	templateID, ok := s.byName[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyTemplate(s.byID[templateID]), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*models.CredentialTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CredentialTemplate, 0, len(s.byID))
	for _, template := range s.byID {
		out = append(out, copyTemplate(template))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ListNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func copyTemplate(template *models.CredentialTemplate) *models.CredentialTemplate {
	clone := *template
	clone.Schema.Properties = make(map[string]models.Property, len(template.Schema.Properties))
	for k, v := range template.Schema.Properties {
		clone.Schema.Properties[k] = v
	}
	clone.Schema.Required = append([]string(nil), template.Schema.Required...)
	return &clone
}
