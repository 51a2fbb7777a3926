package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/mentorpal/mentor-upload-api/log"
	"github.com/xeipuuv/gojsonschema"
)

// Error names surfaced in the "error" field of HTTP error bodies.
const (
	NameValidation = "ValidationError"
	NameAuth       = "AuthError"
	NameConflict   = "ConflictError"
	NameInternal   = "Exception"
)

type apiError struct {
	Name   string `json:"error"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
	Err    error  `json:"-"`
}

func writeHTTPError(w http.ResponseWriter, name, msg string, status int, err error) apiError {
	if err != nil && msg != "" {
		msg = msg + ": " + err.Error()
	} else if err != nil {
		msg = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": name, "message": msg}); encErr != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", encErr)
	}
	return apiError{name, msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, NameAuth, msg, http.StatusUnauthorized, err)
}

func WriteHTTPForbidden(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, NameAuth, msg, http.StatusForbidden, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, NameValidation, msg, http.StatusBadRequest, err)
}

// Upload-in-progress style rejections: still a 400 per the public API contract,
// but tagged distinctly so clients can tell them apart from schema failures.
func WriteHTTPConflict(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, NameConflict, msg, http.StatusBadRequest, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, NameValidation, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHTTPError(w, NameInternal, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) apiError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHTTPError(w, NameValidation, sb.String(), http.StatusBadRequest, nil)
}

// Unretriable marks an error as a terminal stage failure. The worker host
// checks IsUnretriable before handing the message back for redelivery.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

func IsUnretriable(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

// Unwrap a wrapped unretriable error back to the cause for logging.
func UnretriableCause(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
