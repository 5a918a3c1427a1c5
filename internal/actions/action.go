// Package actions holds the request handlers campaignd serves.
//
// An Action is registered once as a prototype. The server registry clones the
// prototype for every request, so handlers that keep request-scoped state get
// a fresh instance while stateless handlers return themselves.
package actions

import (
	"context"
	"errors"

	"github.com/danmuck/campaignd/internal/factory"
	"github.com/danmuck/campaignd/internal/protocol"
)

// Action handles one request kind.
type Action interface {
	Execute(ctx context.Context, req *protocol.Request) (*protocol.Reply, error)
	Clone() Action
}

// Func adapts a stateless function to Action.
type Func func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error)

func (f Func) Execute(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
	return f(ctx, req)
}

func (f Func) Clone() Action {
	return f
}

// Registry is the discriminator to action table used by the dispatcher.
type Registry = factory.Registry[Action]

// NewRegistry returns an empty clone-policy registry.
func NewRegistry() *Registry {
	return factory.NewRegistry(factory.Cloned[Action]())
}

// PublicError carries a message that is safe to send to the client.
type PublicError struct {
	Message string
	Err     error
}

func (e *PublicError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *PublicError) Unwrap() error {
	return e.Err
}

// Public wraps err with a client-visible message.
func Public(message string, err error) error {
	return &PublicError{Message: message, Err: err}
}

// PublicMessage returns the client-visible message carried by err, if any.
func PublicMessage(err error) (string, bool) {
	var pe *PublicError
	if errors.As(err, &pe) {
		return pe.Message, true
	}
	return "", false
}
