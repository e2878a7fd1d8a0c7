package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type actorKey struct{}

// reviewerClaims is the token payload issued by the identity service.
// The reviewer name is the subject; Name is used for display when present.
type reviewerClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// RequireAuth verifies an HS256 bearer token and stores its subject as the actor.
// With an empty secret the middleware is a passthrough and the X-Actor header is trusted,
// which is how the service runs behind an authenticating proxy.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		key := []byte(secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, r, "missing bearer token", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			claims := &reviewerClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return key, nil
			}, jwt.WithExpirationRequired())
			if err != nil || !token.Valid || claims.Subject == "" {
				writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// actor returns the reviewer identity: the verified token subject when auth is enabled,
// otherwise the X-Actor header. An empty actor is rejected by request validation.
func actor(r *http.Request) string {
	if v, ok := r.Context().Value(actorKey{}).(string); ok {
		return v
	}
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}
