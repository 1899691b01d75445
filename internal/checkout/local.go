package checkout

import (
	"context"

	"github.com/commercia/creditcore/internal/idgen"
)

// LocalProvider fabricates provider sessions without calling out to a
// payment provider. Used in demo mode when no Stripe key is configured;
// completion then comes from manually posted webhook events.
type LocalProvider struct{}

// NewLocalProvider creates a provider for demo mode.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (p *LocalProvider) CreateSession(ctx context.Context, req ProviderRequest) (*ProviderSession, error) {
	id := idgen.WithPrefix("ps_")
	return &ProviderSession{
		ID:  id,
		URL: "http://localhost:8080/checkout/demo/" + id,
	}, nil
}
