package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"levelverse.io/internal/levels"
	"levelverse.io/internal/store"
)

// Authenticator maps a session token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// TokenAuthenticator looks tokens up by their SHA-256 hash in users.
type TokenAuthenticator struct {
	Store store.Store
}

func (a TokenAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", levels.ErrMissingUser
	}
	d, err := a.Store.Collection(store.Users).FindOne(ctx, store.Selector{"auth.tokenHash": HashToken(token)}, store.FindOptions{Fields: []string{"username"}})
	if errors.Is(err, store.ErrNotFound) {
		return "", levels.ErrMissingUser
	}
	if err != nil {
		return "", oops.Wrapf(err, "authenticate")
	}
	return d.ID(), nil
}
