package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/orderlyflow/internal/store"
)

const maxJSONBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into v and validates it. On failure it has
// already written a 400 response.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// writeStoreError maps store errors to HTTP status codes. Unexpected
// errors are logged and reported as 500 with msg.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownTable):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden), errors.Is(err, store.ErrNotInFamily):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrUnknownColumn), errors.Is(err, store.ErrInvalidValue),
		errors.Is(err, store.ErrMissingHome), errors.Is(err, store.ErrInvitationInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrEmailTaken), errors.Is(err, store.ErrAlreadyInFamily),
		errors.Is(err, store.ErrCannotRemoveOwner):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}
