package schema

import (
	"context"
	"fmt"
)

// Describer is implemented by database engines that can introspect their own
// tables.
type Describer interface {
	Describe(ctx context.Context) (Context, error)
}

// Provider picks the schema a trial shows to the models: a schema supplied with
// the request wins, then the configured static schema, then introspection.
type Provider struct {
	static Context
}

func NewProvider(static Context) *Provider {
	return &Provider{static: static.Clone()}
}

func (p *Provider) Static() Context {
	if p == nil {
		return Context{}
	}
	return p.static.Clone()
}

func (p *Provider) Resolve(ctx context.Context, supplied *Context, fallback Describer) (Context, error) {
	if supplied != nil && !supplied.IsEmpty() {
		if err := supplied.Validate(); err != nil {
			return Context{}, fmt.Errorf("invalid schema: %w", err)
		}
		return supplied.Clone(), nil
	}
	if p != nil && !p.static.IsEmpty() {
		return p.static.Clone(), nil
	}
	if fallback == nil {
		return Context{}, nil
	}
	described, err := fallback.Describe(ctx)
	if err != nil {
		return Context{}, fmt.Errorf("describe schema: %w", err)
	}
	return described, nil
}

// Source names where Resolve takes its schema from for the same arguments.
func (p *Provider) Source(supplied *Context) string {
	switch {
	case supplied != nil && !supplied.IsEmpty():
		return "request"
	case p != nil && !p.static.IsEmpty():
		return "configured"
	default:
		return "introspected"
	}
}
