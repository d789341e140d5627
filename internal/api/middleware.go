package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"pharmanear/m/domain"
)

type ctxKey string

const ctxSession ctxKey = "session"

// requestLogger attaches logger to every request context and writes one
// access line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	withLogger := hlog.NewHandler(logger)
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		event := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			event = hlog.FromRequest(r).Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
	return func(next http.Handler) http.Handler {
		return withLogger(access(next))
	}
}

// authMiddleware requires a bearer token that parses and still matches the
// stored pharmacy. Tokens issued before a rename are rejected.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "no token provided")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])

		session, err := h.sessions.Parse(tokenString)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := h.pharmacies.VerifySession(r.Context(), session); err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxSession, session)
		ctx = hlog.FromRequest(r).With().Str("pharmacy_id", session.PharmacyID).Logger().WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) domain.Session {
	s, _ := ctx.Value(ctxSession).(domain.Session)
	return s
}

// requireOwner rejects requests whose pharmacy_id names another pharmacy.
// An empty id is left for the service to reject.
func requireOwner(w http.ResponseWriter, r *http.Request, pharmacyID string) bool {
	if pharmacyID != "" && pharmacyID != sessionFrom(r.Context()).PharmacyID {
		respondError(w, http.StatusForbidden, "access denied")
		return false
	}
	return true
}
