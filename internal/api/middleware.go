package api

// This file contains the middleware that resolves the calling user.

import (
	"context"
	"net/http"
	"strconv"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

const userContextKey = contextKey("user_id")

// UserHeader carries the authenticated user id. Authentication itself happens
// in front of this service; the header is trusted as given.
const UserHeader = "X-User-ID"

// UserMiddleware reads the caller's id from the X-User-ID header and injects
// it into the request's context for downstream handlers to use.
func (s *Server) UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserHeader)
		if raw == "" {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: missing "+UserHeader+" header")
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: invalid user id")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getUserID returns the caller's id. It is 0 outside UserMiddleware.
func getUserID(r *http.Request) int64 {
	userID, _ := r.Context().Value(userContextKey).(int64)
	return userID
}
