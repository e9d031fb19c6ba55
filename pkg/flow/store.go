package flow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors returned by the definition store
var (
	ErrFlowNotFound      = errors.New("flow definition not found")
	ErrFlowAlreadyExists = errors.New("flow definition already exists")
)

// Store holds named flow definitions. Definitions are immutable once
// registered; there is no update or delete during a run.
type Store struct {
	mu    sync.RWMutex
	flows map[string]*Definition
}

// NewStore creates an empty definition store
func NewStore() *Store {
	return &Store{
		flows: make(map[string]*Definition),
	}
}

// Register adds a validated definition under its name
func (s *Store) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrFlowAlreadyExists, def.Name)
	}

	s.flows[def.Name] = def
	return nil
}

// Get retrieves a definition by name
func (s *Store) Get(name string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	return def, nil
}

// List returns all registered definitions sorted by name
func (s *Store) List() []*Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Definition, 0, len(s.flows))
	for _, def := range s.flows {
		list = append(list, def)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// RegisterBuiltins parses and registers the platform's built-in flows
func (s *Store) RegisterBuiltins() error {
	for _, content := range builtinFlows {
		def, err := Parse([]byte(content))
		if err != nil {
			return fmt.Errorf("builtin flow: %w", err)
		}
		if err := s.Register(def); err != nil {
			return err
		}
	}
	return nil
}
