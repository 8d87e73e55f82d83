package ratelimit

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Identity struct {
	Authenticated bool
	Subject       string
}

type identityKey struct{}

// IdentityFromRequest reads an HS256 bearer token. A missing secret, a
// missing header or any invalid token yields an anonymous identity.
func IdentityFromRequest(r *http.Request, secret []byte) Identity {
	if len(secret) == 0 {
		return Identity{}
	}
	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return Identity{}
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}
	}
	return Identity{Authenticated: true, Subject: sub}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
