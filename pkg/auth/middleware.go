package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/helm-rem/pkg/problem"
)

// Issuer is the expected "iss" claim on REM API tokens.
const Issuer = "helm-rem"

// JWTValidator validates HS256 bearer tokens and extracts claims.
type JWTValidator struct {
	secret []byte
}

// RemClaims are the JWT claims expected by the REM API.
type RemClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// NewJWTValidator creates a validator for the shared secret.
// An empty secret yields nil, which makes NewMiddleware fail closed.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and validates a JWT token string.
func (v *JWTValidator) Validate(tokenStr string) (*RemClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("validator uninitialized")
	}

	claims := &RemClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Issue mints a token for subject with roles. Used by the CLI and tests.
func (v *JWTValidator) Issue(claims RemClaims) (string, error) {
	if v == nil {
		return "", errors.New("validator uninitialized")
	}
	if claims.Issuer == "" {
		claims.Issuer = Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/readiness",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates JWT auth middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				problem.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				problem.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				problem.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				problem.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				problem.WriteUnauthorized(w, "Token subject is required")
				return
			}

			principal := &BasePrincipal{ID: claims.Subject, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects requests whose principal lacks role.
// Requests without a principal are passed through only when open is true,
// which is the case when the server runs without JWT auth.
func RequireRole(role string, open bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := GetPrincipal(r.Context())
			if err != nil {
				if open {
					next.ServeHTTP(w, r)
					return
				}
				problem.WriteUnauthorized(w, "")
				return
			}
			if !p.HasRole(role) {
				problem.WriteForbidden(w, fmt.Sprintf("role %q required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
