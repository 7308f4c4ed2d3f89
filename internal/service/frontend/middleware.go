package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/models"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// requireUser authenticates the bearer token and loads the user row into the
// request context.
func (srv *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		user, err := srv.authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves a bearer token to a user row.
func (srv *Server) authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := srv.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	user, err := srv.store.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error(ctx, "User lookup failed", "err", err)
		}
		return nil, err
	}
	return user, nil
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(context.Background(), "Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
