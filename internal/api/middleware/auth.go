package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stampwise/stampwise/internal/api/models"
	"github.com/stampwise/stampwise/internal/auth"
)

// subjectKey is the context key for the authenticated program subject.
type subjectKey struct{}

// businessIDKey is the context key for the token's business scope.
type businessIDKey struct{}

// ProgramAuth creates authentication middleware for the program surface.
// It validates JWT bearer tokens issued by the auth service. The wallet
// protocol endpoints do not use this; their auth is the per-pass token
// checked inside the pass service.
func ProgramAuth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := authHeader[len(bearerPrefix):]
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := authService.ValidateAccessToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrAccessTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				default:
					writeUnauthorized(w, r, "invalid access token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			ctx = context.WithValue(ctx, businessIDKey{}, claims.BusinessID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
// Implemented directly here to avoid an import cycle with the response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := GetRequestID(r.Context())
	problem := models.NewUnauthorized(traceID, detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetSubject retrieves the authenticated program subject from the context.
// Returns an empty string if not authenticated.
func GetSubject(ctx context.Context) string {
	if id, ok := ctx.Value(subjectKey{}).(string); ok {
		return id
	}
	return ""
}

// GetBusinessID retrieves the token's business scope from the context.
func GetBusinessID(ctx context.Context) string {
	if id, ok := ctx.Value(businessIDKey{}).(string); ok {
		return id
	}
	return ""
}
