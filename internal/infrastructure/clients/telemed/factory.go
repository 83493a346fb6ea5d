package telemed

import (
	"context"
	"fmt"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
	"github.com/zatekoja/telemedsync/pkg/secrets"
)

// ClientFactory builds partner clients, resolving vault credential
// references first
type ClientFactory struct {
	opts     Options
	resolver *secrets.CredentialResolver
}

// NewClientFactory creates a factory. resolver may be nil when no provider
// stores vault references.
func NewClientFactory(opts Options, resolver *secrets.CredentialResolver) *ClientFactory {
	return &ClientFactory{opts: opts, resolver: resolver}
}

// NewClient builds a client for provider
func (f *ClientFactory) NewClient(ctx context.Context, provider *entities.Provider) (*Client, error) {
	if !provider.IsConfigured() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("provider %s is not configured for sync", provider.ID))
	}

	creds, err := f.resolver.ResolveAll(ctx, provider.AllCredentials())
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("provider %s credentials", provider.ID), err)
	}

	resolved := *provider
	resolved.AuthConfig = entities.AuthConfig{Type: provider.AuthConfig.Type, Credentials: creds}
	resolved.CredentialsConfig = nil

	return NewClient(&resolved, f.opts)
}
