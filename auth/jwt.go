package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warp/reception-ledger/reception"
)

// TerminalClaims are carried by terminal tokens.
type TerminalClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 terminal tokens.
type JWT struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWT(secret, issuer string) *JWT {
	return &JWT{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for actor valid for ttl.
func (j *JWT) Issue(actor reception.Actor, ttl time.Duration) (string, error) {
	now := j.now()
	claims := TerminalClaims{
		Name: actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWT) Verify(_ context.Context, token string) (reception.Actor, error) {
	claims := &TerminalClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return j.secret, nil
	},
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return reception.Actor{}, ErrExpiredToken
		}
		return reception.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Name == "" {
		return reception.Actor{}, ErrInvalidToken
	}
	return reception.Actor{UID: claims.Subject, Name: claims.Name}, nil
}
