package gateway

import (
	"errors"
	"net/http"

	"github.com/forgeq/forgeq/core/identity"
)

var errUnauthorized = errors.New("unauthorized")

// AuthProvider resolves the identity behind an incoming request.
type AuthProvider interface {
	Authenticate(r *http.Request) (identity.Identity, error)
}

// identityAuthProvider authenticates against the identity store using the
// X-API-Key header (or the websocket subprotocol fallback).
type identityAuthProvider struct {
	store identity.Store
}

// NewIdentityAuth returns the default API-key auth provider.
func NewIdentityAuth(store identity.Store) AuthProvider {
	return &identityAuthProvider{store: store}
}

func (p *identityAuthProvider) Authenticate(r *http.Request) (identity.Identity, error) {
	key := normalizeAPIKey(r.Header.Get("X-API-Key"))
	if key == "" {
		key = apiKeyFromWebSocket(r)
	}
	if key == "" {
		return identity.Identity{}, errUnauthorized
	}
	ident, err := p.store.Resolve(r.Context(), key)
	if err != nil {
		return identity.Identity{}, errUnauthorized
	}
	return ident, nil
}
