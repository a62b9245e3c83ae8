package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"effect-service/pkg/gateway"
)

const (
	adminRole = "admin"
	// roleClaimURI is the role claim name ASP.NET style issuers emit.
	roleClaimURI = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

type AuthConfig struct {
	Disabled bool
	Secret   []byte
	Issuer   string
}

// RequireAdmin rejects requests without a valid HS256 bearer token carrying the
// admin role. The raw token is stored on the request context for outgoing calls.
func RequireAdmin(cfg AuthConfig, logger *zap.Logger, next http.Handler) http.Handler {
	if cfg.Disabled {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			if !errors.Is(err, jwt.ErrTokenExpired) {
				logger.Info("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !hasRole(claims, adminRole) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(gateway.WithToken(r.Context(), raw)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// hasRole accepts a single role or a list of roles under either claim name.
func hasRole(claims jwt.MapClaims, role string) bool {
	for _, key := range []string{"role", roleClaimURI} {
		switch v := claims[key].(type) {
		case string:
			if v == role {
				return true
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s == role {
					return true
				}
			}
		}
	}
	return false
}
