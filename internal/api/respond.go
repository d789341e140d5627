package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"pharmanear/m/domain"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decodeBody(decoder, dest)
}

// decodeLenient ignores fields the destination does not declare. Profile
// updates use it because clients post back whole profiles and only the
// allow-listed fields are applied.
func decodeLenient(w http.ResponseWriter, r *http.Request, dest any) error {
	return decodeBody(json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)), dest)
}

func decodeBody(decoder *json.Decoder, dest any) error {
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.InvalidArgument("", "request body is required")
		}
		return domain.InvalidArgument("", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Message: message})
}

// writeError translates a service error into a status code and body.
// Internal errors are logged and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = &domain.Error{Kind: domain.KindInternal, Err: err}
	}

	status := statusFor(de.Kind)
	switch de.Kind {
	case domain.KindInternal:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		respondError(w, status, "server error")
		return
	case domain.KindInvalidCredentials, domain.KindNotRegistered:
		respondError(w, status, "invalid credentials")
		return
	case domain.KindCatalogLoadFailed:
		hlog.FromRequest(r).Warn().Err(err).Msg("catalog unavailable")
	}

	msg := de.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	respondJSON(w, status, errorResponse{Message: msg, Field: de.Field})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindDuplicateHandle, domain.KindAmbiguousMedicine:
		return http.StatusConflict
	case domain.KindInvalidCredentials, domain.KindNotRegistered, domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindCatalogLoadFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
