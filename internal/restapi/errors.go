package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kiwibes/kiwibes/internal/kerr"
)

// errorBody is the wire shape of every non-success JSON response.
type errorBody struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK writes the success body {error: 0} used by operations with no
// other result to report.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, errorBody{Error: int(kerr.NoError), Message: ""})
}

// writeErr maps a component-layer error to the HTTP boundary: every
// non-nil *kerr.Error becomes a 404 with its wire code and message; any
// other error is an unexpected internal failure, mapped to 500.
func writeErr(w http.ResponseWriter, err error) {
	var kerrErr *kerr.Error
	if errors.As(err, &kerrErr) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: int(kerrErr.Code), Message: kerrErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: -1, Message: err.Error()})
}
