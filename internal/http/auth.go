package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"expensetracker/internal/log"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// TrustedUserHeader names the user when no JWT secret is configured and an
// identity-aware proxy authenticates requests upstream.
const TrustedUserHeader = "X-User-ID"

var errMissingIdentity = errors.New("missing identity")

// Authenticator resolves the calling user. With a secret it accepts HS256
// bearer tokens whose subject is the user ID; without one it trusts
// TrustedUserHeader.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret string) *Authenticator {
	a := &Authenticator{}
	if secret != "" {
		a.secret = []byte(secret)
		a.parser = jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		)
	}
	return a
}

// TokenAuth reports whether bearer tokens are required.
func (a *Authenticator) TokenAuth() bool {
	return a.parser != nil
}

// UserID extracts the authenticated user from r.
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	if !a.TokenAuth() {
		id := strings.TrimSpace(r.Header.Get(TrustedUserHeader))
		if id == "" {
			return "", errMissingIdentity
		}
		return id, nil
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return "", errMissingIdentity
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingIdentity
	}
	return claims.Subject, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the user
// ID in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.UserID(r)
		if err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Authentication failed",
				log.FieldPath, r.URL.Path,
				log.FieldError, err)
			sendJSONError(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		ctx = log.WithLogger(ctx, log.FromContext(ctx).With(log.FieldUserID, userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFrom returns the user stored by Middleware.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("issue token: empty secret")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(secret))
}
