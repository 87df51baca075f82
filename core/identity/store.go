package identity

import (
	"context"
	"errors"
)

var (
	// ErrUnknownKey indicates no identity exists for the presented API key.
	ErrUnknownKey = errors.New("unknown_api_key")
	// ErrLimitReached indicates a reservation would exceed the monthly ceiling.
	ErrLimitReached = errors.New("monthly_limit_reached")
)

// Store resolves identities and tracks monthly usage. Reserve must compare
// and increment atomically with respect to concurrent reservations for the
// same key; Release undoes a reservation whose submission was later refused.
type Store interface {
	Resolve(ctx context.Context, apiKey string) (Identity, error)
	Put(ctx context.Context, ident Identity) error
	Reserve(ctx context.Context, apiKey string, limit int) (used int, err error)
	Release(ctx context.Context, apiKey string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
