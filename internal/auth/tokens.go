package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gbrlsnchs/jwt/v3"
)

const issuer = "pelusa-chat"

type claims struct {
	jwt.Payload
	UserID string `json:"userId"`
}

// Tokens signs and verifies HS256 session tokens carrying a user id.
type Tokens struct {
	alg   *jwt.HMACSHA
	ttl   time.Duration
	nowFn func() time.Time
}

func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{
		alg:   jwt.NewHS256(secret),
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Issue returns a signed token for userID and its expiry.
func (t *Tokens) Issue(userID string) (string, time.Time, error) {
	now := t.nowFn()
	exp := now.Add(t.ttl)
	pl := claims{
		Payload: jwt.Payload{
			Issuer:         issuer,
			Subject:        userID,
			IssuedAt:       jwt.NumericDate(now),
			ExpirationTime: jwt.NumericDate(exp),
		},
		UserID: userID,
	}
	token, err := jwt.Sign(pl, t.alg)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return string(token), exp, nil
}

// Verify checks signature, issuer and expiry and returns the user id.
func (t *Tokens) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingCredential
	}
	var pl claims
	validate := jwt.ValidatePayload(&pl.Payload,
		jwt.IssuerValidator(issuer),
		jwt.ExpirationTimeValidator(t.nowFn()),
	)
	if _, err := jwt.Verify([]byte(token), t.alg, &pl, validate); err != nil {
		if errors.Is(err, jwt.ErrExpValidation) {
			return "", ErrExpiredCredential
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if pl.UserID == "" {
		return "", fmt.Errorf("%w: token carries no user id", ErrInvalidCredential)
	}
	return pl.UserID, nil
}
