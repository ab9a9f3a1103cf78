/*
Package auth resolves the acting user of a request.

PURPOSE:
  Every ledger mutation takes an explicit reception.Actor. This package
  turns the request's bearer token into that actor and carries it on the
  request context. It never decides whether an operation is allowed:
  a request without a token proceeds with an empty actor and the ledger
  answers "unauthenticated".

VERIFIERS:
  JWT:      HS256 tokens issued to reception terminals
  Firebase: Firebase Authentication ID tokens of staff signed in upstream
*/
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/warp/reception-ledger/reception"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(ctx context.Context, token string) (reception.Actor, error)
}

type ctxKey struct{}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor reception.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the request's actor, the zero Actor when none.
func ActorFrom(ctx context.Context) reception.Actor {
	actor, _ := ctx.Value(ctxKey{}).(reception.Actor)
	return actor
}

// Middleware verifies "Authorization: Bearer <token>". A missing header
// passes through; a malformed or rejected token is answered with 401.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "invalid authorization header")
				return
			}
			actor, err := v.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token has expired"
				}
				unauthorized(w, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
