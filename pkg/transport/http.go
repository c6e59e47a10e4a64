package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/connections"
	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/sessions"
)

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var ie *InputError
	switch {
	case errors.As(err, &ie),
		errors.Is(err, live.ErrInvalidMode),
		errors.Is(err, live.ErrEmptyInput),
		errors.Is(err, connections.ErrMissingUser):
		return http.StatusBadRequest
	case errors.Is(err, connections.ErrNotFound),
		errors.Is(err, sessions.ErrNotFound),
		errors.Is(err, live.ErrUnknownProfile),
		errors.Is(err, live.ErrNotAttached):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrSessionExists),
		errors.Is(err, connections.ErrAlreadyAttached),
		errors.Is(err, live.ErrProfileMismatch):
		return http.StatusConflict
	case errors.Is(err, live.ErrStreamClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "transport").Msg("response write failed")
	}
}

// WriteDetail writes a {"detail": ...} error body.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, map[string]string{"detail": detail})
}

// WriteError writes err with the status StatusFor picks.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("component", "transport").Msg("request failed")
	}
	WriteDetail(w, status, Detail(err))
}
