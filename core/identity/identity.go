package identity

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

const apiKeyPrefix = "fq_"

// Identity is the authenticated subject of rate limiting and quota
// enforcement, one per API credential. Provisioned by the billing
// collaborator; the core treats it as read/increment-only.
type Identity struct {
	APIKey             string    `json:"api_key"`
	Email              string    `json:"email"`
	Plan               Plan      `json:"plan"`
	TasksUsedThisMonth int       `json:"tasks_used_this_month"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewAPIKey mints an unguessable fq_-prefixed credential.
func NewAPIKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; treat as fatal input.
		panic(err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// Provision mints a fresh identity with zero usage for a paid-up subscriber.
// NOTE: callers wiring this to payment webhooks must dedupe replayed
// deliveries themselves; a replay mints a second identity for the same email.
func Provision(email string, plan Plan) Identity {
	return Identity{
		APIKey:    NewAPIKey(),
		Email:     email,
		Plan:      plan,
		CreatedAt: time.Now().UTC(),
	}
}
