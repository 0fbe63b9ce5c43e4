package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Expression produces a value from an incoming message. Implementations are
// opaque to the processor; evaluation failures abort processing of the
// message before any HTTP attempt is made.
type Expression interface {
	Evaluate(ctx context.Context, msg *Message) (any, error)
}

// literalExpression always yields the same static value.
type literalExpression struct {
	value any
}

func (e literalExpression) Evaluate(context.Context, *Message) (any, error) {
	return e.value, nil
}

// Literal returns an expression that evaluates to the given static value.
func Literal(value any) Expression {
	return literalExpression{value: value}
}

// funcExpression adapts a plain function to the Expression interface.
type funcExpression struct {
	fn func(ctx context.Context, msg *Message) (any, error)
}

func (e funcExpression) Evaluate(ctx context.Context, msg *Message) (any, error) {
	return e.fn(ctx, msg)
}

// Func returns an expression backed by the given evaluator function.
func Func(fn func(ctx context.Context, msg *Message) (any, error)) Expression {
	return funcExpression{fn: fn}
}

// headerExpression selects a named header from the message.
type headerExpression struct {
	name string
}

func (e headerExpression) Evaluate(_ context.Context, msg *Message) (any, error) {
	v, ok := msg.Header(e.name)
	if !ok {
		return nil, fmt.Errorf("header %q not present on message", e.name)
	}
	return v, nil
}

// Header returns an expression that reads the named message header and fails
// when the header is absent.
func Header(name string) Expression {
	return headerExpression{name: name}
}

// Registry maps expression names from configuration to registered
// implementations. Registration happens at startup before the pipeline runs;
// lookups are read-only afterwards.
type Registry struct {
	mu          sync.RWMutex
	expressions map[string]Expression
}

// NewRegistry creates an empty expression registry.
func NewRegistry() *Registry {
	return &Registry{expressions: make(map[string]Expression)}
}

// Register adds an expression under the given name, replacing any previous
// registration.
func (r *Registry) Register(name string, expr Expression) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expressions[name] = expr
}

// Resolve returns the expression registered under name.
func (r *Registry) Resolve(name string) (Expression, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expr, ok := r.expressions[name]
	if !ok {
		return nil, fmt.Errorf("expression %q is not registered", name)
	}
	return expr, nil
}

// Names returns the registered expression names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.expressions))
	for name := range r.expressions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
