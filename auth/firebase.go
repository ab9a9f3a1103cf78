package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	"github.com/warp/reception-ledger/reception"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Firebase verifies Firebase Authentication ID tokens.
type Firebase struct {
	client idTokenVerifier
}

func NewFirebase(ctx context.Context, app *firebase.App) (*Firebase, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firebase auth: %w", err)
	}
	return &Firebase{client: client}, nil
}

// Verify maps the token to an actor named after the display name, falling
// back to the email.
func (f *Firebase) Verify(ctx context.Context, token string) (reception.Actor, error) {
	tok, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		if fbauth.IsIDTokenExpired(err) {
			return reception.Actor{}, ErrExpiredToken
		}
		return reception.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return reception.Actor{UID: tok.UID, Name: displayName(tok.Claims)}, nil
}

func displayName(claims map[string]interface{}) string {
	for _, key := range []string{"name", "email"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
