package llm

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/time/rate"
)

// Completer is the subset of Client the engines depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStructured(ctx context.Context, req Request, schema *jsonschema.Schema, target any) error
	Model() string
}

// Source hands out a Completer for one request. override is the caller-supplied
// API key, empty when the request carried none.
type Source interface {
	Client(override string) (Completer, error)
}

// KeyResolver returns the API key to use for an override and where it came from.
type KeyResolver func(override string) (key string, source string, err error)

// Provider builds clients bound to a resolved key. Every client shares one rate
// limiter so per-request keys cannot exceed the configured budget.
type Provider struct {
	base    Config
	resolve KeyResolver
	limiter *rate.Limiter
	opts    []Option
}

// NewProvider returns a Source that resolves keys with resolve.
func NewProvider(cfg Config, resolve KeyResolver, opts ...Option) *Provider {
	return &Provider{
		base:    cfg,
		resolve: resolve,
		limiter: NewLimiter(cfg.RequestsPerMinute),
		opts:    opts,
	}
}

// Client resolves the key and builds a client for it.
func (p *Provider) Client(override string) (Completer, error) {
	cfg := p.base
	if p.resolve != nil {
		key, _, err := p.resolve(override)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = key
	} else if override != "" {
		cfg.APIKey = override
	}
	opts := append([]Option{WithLimiter(p.limiter)}, p.opts...)
	return NewClient(cfg, opts...), nil
}

// Static is a Source that always returns the same Completer.
type Static struct {
	Completer Completer
	Err       error
}

// Client returns the wrapped Completer.
func (s Static) Client(string) (Completer, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Completer, nil
}
