package httputil

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v with the given status. The status line is already out
// when encoding fails, so the error is only useful for logging.
func WriteJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, code int, msg string) error {
	return WriteJSON(w, code, ErrorResponse{Error: msg})
}
