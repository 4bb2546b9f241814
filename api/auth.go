package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warp/allocation-engine/generic"
)

// Claims carry the actor asserted by the identity provider: the user id in
// "sub" and the role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

type actorKey struct{}

// TokenAuth verifies HS256 bearer tokens.
type TokenAuth struct {
	Secret []byte
}

// SignToken mints a token for a user. Used by the admin CLI and tests.
func SignToken(secret []byte, id generic.UserID, role generic.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(int64(id), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "allocation-engine",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse validates a token and returns its actor. Only admin and student
// tokens are accepted; the system role stays with in-process callers.
func (a TokenAuth) Parse(token string) (generic.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.Secret, nil
	})
	if err != nil {
		return generic.Actor{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return generic.Actor{}, errInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return generic.Actor{}, errInvalidToken
	}
	role := generic.Role(claims.Role)
	switch role {
	case generic.RoleAdmin, generic.RoleStudent:
	default:
		return generic.Actor{}, errInvalidToken
	}
	return generic.Actor{ID: generic.UserID(id), Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (a TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		actor, err := a.Parse(token)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// WithActor attaches an actor to a context.
func WithActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the request's actor. Without one the zero actor is
// returned, which every capability check refuses.
func ActorFrom(ctx context.Context) generic.Actor {
	actor, _ := ctx.Value(actorKey{}).(generic.Actor)
	return actor
}
