// Package factory maps string identifiers to products.
//
// A Registry is written during startup and frozen before it is shared. After
// Freeze it is read-only, so concurrent MakeProduct calls need no locking.
package factory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrProductNotFound = errors.New("factory: product not found")
	ErrEmptyIdentifier = errors.New("factory: empty identifier")
	ErrFrozen          = errors.New("factory: registry is frozen")
)

// NotFoundError names the identifier that had no registered product.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("factory: product %q not found", e.Identifier)
}

func (e *NotFoundError) Unwrap() error {
	return ErrProductNotFound
}

// Cloner is implemented by products that hand out a fresh copy per use.
type Cloner[P any] interface {
	Clone() P
}

// Policy turns a registered prototype into the product returned to a caller.
type Policy[P any] func(prototype P) P

// Shared returns the registered instance itself.
func Shared[P any]() Policy[P] {
	return func(prototype P) P { return prototype }
}

// Cloned returns prototype.Clone() for each request.
func Cloned[P Cloner[P]]() Policy[P] {
	return func(prototype P) P { return prototype.Clone() }
}

// Registry stores products by identifier.
type Registry[P any] struct {
	policy Policy[P]
	items  map[string]P
	frozen bool
}

// NewRegistry creates an empty registry. A nil policy means Shared.
func NewRegistry[P any](policy Policy[P]) *Registry[P] {
	if policy == nil {
		policy = Shared[P]()
	}
	return &Registry[P]{policy: policy, items: make(map[string]P)}
}

// RegisterProduct binds id to product, replacing any earlier binding.
func (r *Registry[P]) RegisterProduct(id string, product P) error {
	if r.frozen {
		return fmt.Errorf("%w: register %q", ErrFrozen, id)
	}
	if strings.TrimSpace(id) == "" {
		return ErrEmptyIdentifier
	}
	r.items[id] = product
	return nil
}

// MakeProduct returns the product for id through the registry policy.
func (r *Registry[P]) MakeProduct(id string) (P, error) {
	prototype, ok := r.items[id]
	if !ok {
		var zero P
		return zero, &NotFoundError{Identifier: id}
	}
	return r.policy(prototype), nil
}

// Has reports whether id is registered.
func (r *Registry[P]) Has(id string) bool {
	_, ok := r.items[id]
	return ok
}

// Identifiers returns registered ids in sorted order.
func (r *Registry[P]) Identifiers() []string {
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Freeze rejects further registration.
func (r *Registry[P]) Freeze() {
	r.frozen = true
}

func (r *Registry[P]) Frozen() bool {
	return r.frozen
}
