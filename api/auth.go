package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/leave-ledger/ledger"
)

// HeaderUserID carries the acting user in header mode.
const HeaderUserID = "X-User-ID"

var ErrMissingCredentials = errors.New("missing credentials")

// Authenticator identifies the acting user of a request.
type Authenticator interface {
	ActorID(r *http.Request) (string, error)
}

// =============================================================================
// JWT
// =============================================================================

// JWTAuthenticator accepts HS256 bearer tokens whose subject is the user id.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) ActorID(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", ErrMissingCredentials
	}

	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl.
func (a *JWTAuthenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return tok.SignedString(a.secret)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// =============================================================================
// HEADER (development)
// =============================================================================

// HeaderAuthenticator trusts the X-User-ID header. Only for local
// development behind a trusted proxy.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) ActorID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", ErrMissingCredentials
	}
	return id, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type actorKey struct{}

// RequireActor rejects requests without a valid identity and stores the
// actor id in the request context.
func RequireActor(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.ActorID(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", err)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, ledger.UserID(id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFrom(ctx context.Context) ledger.UserID {
	id, _ := ctx.Value(actorKey{}).(ledger.UserID)
	return id
}
