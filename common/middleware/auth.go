package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/telhawk-systems/logistics-bridge/common/httputil"
	"github.com/telhawk-systems/logistics-bridge/common/tokens"
)

// ClaimsKey holds the validated service token claims.
const ClaimsKey = contextKey("claims")

// RequireServiceToken rejects requests without a valid bearer token signed
// by signer. A nil signer disables the check.
func RequireServiceToken(signer *tokens.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if signer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || token == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := signer.Validate(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, tokens.ErrExpiredToken) {
					msg = "token expired"
				}
				httputil.WriteError(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
		})
	}
}

// GetClaims returns the claims stored by RequireServiceToken, or nil.
func GetClaims(ctx context.Context) *tokens.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*tokens.Claims)
	return claims
}
