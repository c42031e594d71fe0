package response

import (
	"encoding/json"
	"net/http"

	"dropmint/pkg/apierror"
)

// Data writes v directly as the JSON response body, with no
// envelope. The four public endpoints specify their body shapes
// exactly, so unlike a generic API this package never wraps payloads
// in a success/data container.
func Data(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes v with a 200 status.
func OK(w http.ResponseWriter, v interface{}) {
	Data(w, http.StatusOK, v)
}

// Error writes an apierror.Error's JSON body and status code, falling
// back to a generic internal error for anything else (used by the
// recovery middleware on an unhandled panic).
func Error(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierror.Error); ok {
		Data(w, apiErr.StatusCode, apiErr)
		return
	}
	Data(w, http.StatusInternalServerError, apierror.InternalError("an unexpected error occurred"))
}
