package rest

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/o2r-project/o2r-finder/internal/syncer"
	"github.com/o2r-project/o2r-finder/internal/transform"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Name       string                 `json:"name"`
	Version    string                 `json:"version"`
	Watchers   []syncer.WatcherStatus `json:"watchers"`
	Transforms []transform.LogEntry   `json:"transforms"`
}

// statusClaims is what the status endpoint reads from a bearer token.
type statusClaims struct {
	Level int `json:"level"`
	jwt.RegisteredClaims
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Name:       h.name,
		Version:    h.version,
		Watchers:   []syncer.WatcherStatus{},
		Transforms: []transform.LogEntry{},
	}
	if h.watchers != nil {
		resp.Watchers = h.watchers.Status()
	}
	if h.transforms != nil {
		resp.Transforms = h.transforms.Entries()
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusGuard requires an HS256 token whose level claim reaches the
// configured minimum. Without a secret the endpoint is open.
func (h *Handler) statusGuard(next http.HandlerFunc) http.HandlerFunc {
	secret := []byte(h.cfg.Status.JWTSecret)
	if len(secret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &statusClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			slog.Debug("Rejected status token", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Level < h.cfg.Status.MinLevel {
			writeError(w, http.StatusForbidden, "insufficient level")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
