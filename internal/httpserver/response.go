package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/oliverpay/txregistry/internal/errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeRegistryError maps a registry error onto its HTTP status. Messages
// come from the typed error; raw payloads never reach the response.
func writeRegistryError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	writeError(w, code.HTTPStatus(), string(code), err.Error())
}
