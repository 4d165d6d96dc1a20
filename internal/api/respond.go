package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/dispatchdesk/internal/auth"
	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/dispatch"
	"github.com/dennisdiepolder/dispatchdesk/internal/session"
	"github.com/dennisdiepolder/dispatchdesk/internal/stepper"
	"github.com/dennisdiepolder/dispatchdesk/internal/storage"
	"github.com/rs/zerolog"
)

// TabHeader identifies the console tab a request comes from
const TabHeader = "X-Console-Tab"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", dispatch.ErrValidation)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes. Validation is checked
// first since a dispatch without an admin id is both invalid and not found.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrValidation),
		errors.Is(err, session.ErrUnknownStep),
		errors.Is(err, stepper.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, dispatch.ErrSubscriberNotFound),
		errors.Is(err, dispatch.ErrAdminIDUnavailable),
		errors.Is(err, dispatch.ErrNoWorkflow),
		errors.Is(err, callqueue.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrOrderUnavailable),
		errors.Is(err, dispatch.ErrDispatchInProgress),
		errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, stepper.ErrNavigationBlocked),
		errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNoIdentity):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": msg}. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// actorFrom identifies the agent tab of the request
func actorFrom(r *http.Request) (dispatch.Actor, error) {
	uid, err := auth.UID(r.Context())
	if err != nil {
		return dispatch.Actor{}, err
	}
	tab := r.Header.Get(TabHeader)
	if tab == "" {
		tab = r.URL.Query().Get("tab")
	}
	return dispatch.Actor{UID: uid, Tab: tab}, nil
}
