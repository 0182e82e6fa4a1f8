package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/entitycore/core/model"
)

// Catalog holds the hooks and validators that YAML models refer to by name.
// Plugins register their implementations from Go code before compiling.
type Catalog struct {
	mu               sync.RWMutex
	hooks            map[string]model.Hook
	fieldValidators  map[string]model.FieldValidator
	entityValidators map[string]model.EntityValidator
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		hooks:            make(map[string]model.Hook),
		fieldValidators:  make(map[string]model.FieldValidator),
		entityValidators: make(map[string]model.EntityValidator),
	}
}

// RegisterHook adds or replaces a named hook.
func (c *Catalog) RegisterHook(name string, h model.Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[name] = h
}

// RegisterFieldValidator adds or replaces a named field validator.
func (c *Catalog) RegisterFieldValidator(name string, v model.FieldValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fieldValidators[name] = v
}

// RegisterEntityValidator adds or replaces a named entity validator.
func (c *Catalog) RegisterEntityValidator(name string, v model.EntityValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entityValidators[name] = v
}

// Hook looks up a hook by name.
// Returns an error if the hook is not registered.
func (c *Catalog) Hook(name string) (model.Hook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hooks[name]
	if !ok {
		return nil, fmt.Errorf("hook %q not registered", name)
	}
	return h, nil
}

// FieldValidator looks up a field validator by name.
func (c *Catalog) FieldValidator(name string) (model.FieldValidator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.fieldValidators[name]
	if !ok {
		return nil, fmt.Errorf("field validator %q not registered", name)
	}
	return v, nil
}

// EntityValidator looks up an entity validator by name.
func (c *Catalog) EntityValidator(name string) (model.EntityValidator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entityValidators[name]
	if !ok {
		return nil, fmt.Errorf("entity validator %q not registered", name)
	}
	return v, nil
}

// Names returns all registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.hooks)+len(c.fieldValidators)+len(c.entityValidators))
	for name := range c.hooks {
		names = append(names, name)
	}
	for name := range c.fieldValidators {
		names = append(names, name)
	}
	for name := range c.entityValidators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
