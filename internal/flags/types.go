package flags

import (
	"context"
	"errors"
	"strings"
	"time"
)

// WelcomeSeen is set once the user dismisses the welcome screen.
const WelcomeSeen = "hasSeenWelcome"

// DefaultOwner scopes flags written without a user id.
const DefaultOwner = "local"

var ErrInvalidKey = errors.New("flag key is required")

// Flag is one persisted key/value pair scoped to an owner.
type Flag struct {
	Owner     string    `json:"owner"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists small per-owner flags. A missing flag is not an error.
type Store interface {
	Get(ctx context.Context, owner, key string) (Flag, bool, error)
	Set(ctx context.Context, owner, key, value string) error
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// IsSet reports whether owner has a non-empty value for key.
func IsSet(ctx context.Context, s Store, owner, key string) (bool, error) {
	f, ok, err := s.Get(ctx, owner, key)
	if err != nil || !ok {
		return false, err
	}
	return f.Value != "", nil
}

func normalize(owner, key string) (string, string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = DefaultOwner
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", ErrInvalidKey
	}
	return owner, key, nil
}
