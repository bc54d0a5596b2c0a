package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mechlib/catalog/internal/api/response"
	"github.com/mechlib/catalog/internal/observability"
)

// AuthRejectRecorder counts rejected credentials by reason. Nil when metrics are disabled.
type AuthRejectRecorder interface {
	RecordAuthRejected(ctx context.Context, reason string)
}

// Auth validates the static API key sent as "Authorization: Bearer <api-key>".
func Auth(apiKey string, recorder AuthRejectRecorder) func(http.Handler) http.Handler {
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason, detail string) {
				if recorder != nil {
					recorder.RecordAuthRejected(r.Context(), reason)
				}

				response.RespondUnauthorized(w, detail)
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject(observability.RejectMissingKey, "Missing Authorization header")

				return
			}

			scheme, key, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || key == "" {
				reject(observability.RejectMalformedKey, "Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			if subtle.ConstantTimeCompare([]byte(key), want) != 1 {
				reject(observability.RejectInvalidKey, "Invalid API key")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
