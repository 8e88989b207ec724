package testutil

import (
	"net/http"
	"time"

	id "idproof/pkg/domain"
	"idproof/pkg/requestcontext"
)

// AuthenticatedAs stands in for the bearer token middleware.
func AuthenticatedAs(userID id.UserID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(r.Context(), userID)))
		})
	}
}

// PinnedClock fixes the request-scoped clock.
func PinnedClock(now time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now)))
		})
	}
}
