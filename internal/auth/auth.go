package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrExpiredCredential = errors.New("auth: credential expired")
	ErrUserNotFound      = errors.New("auth: user not found")
)

// IsAuthError reports whether err rejects the credential itself, as opposed to
// a lookup or storage failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrUserNotFound)
}

// UserFinder loads user records by id.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (models.User, error)
}

// Authenticator resolves a bearer token to the identity it was issued for.
type Authenticator struct {
	tokens *Tokens
	users  UserFinder
}

func NewAuthenticator(tokens *Tokens, users UserFinder) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

func (a *Authenticator) Tokens() *Tokens {
	return a.tokens
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	userID, err := a.tokens.Verify(token)
	if err != nil {
		return models.Identity{}, err
	}
	user, err := a.users.FindUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Identity{}, ErrUserNotFound
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	return user.Identity(), nil
}
