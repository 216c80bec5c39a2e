// middleware.go resolves the bearer token of every HTTP request

package auth

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/andrewwphillips/bookql/internal/errors"
	"github.com/andrewwphillips/bookql/internal/logging"
)

type errorBody struct {
	Errors []errorEntry `json:"errors"`
}

type errorEntry struct {
	Message    string            `json:"message"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// Middleware puts the request's Identity in its context. A request carrying
// an invalid token is rejected with 401 and never proceeds anonymously.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		id, err := r.Resolve(ctx, req.Header.Get("Authorization"))
		if err != nil {
			logging.FromContext(ctx).Error(err, "failed to resolve credential")
			writeError(w, http.StatusInternalServerError, "internal server error", "")
			return
		}
		if id.State == Invalid {
			logging.FromContext(ctx).V(1).Info("rejected token", "reason", id.Err.Error())
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid token", apperrors.CodeUnauthenticated)
			return
		}
		next.ServeHTTP(w, req.WithContext(WithIdentity(ctx, id)))
	})
}

func writeError(w http.ResponseWriter, status int, msg string, code apperrors.Code) {
	entry := errorEntry{Message: msg}
	if code != "" {
		entry.Extensions = map[string]string{"code": string(code)}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Errors: []errorEntry{entry}})
}
