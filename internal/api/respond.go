package api

import (
	"encoding/json"
	"net/http"

	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/logger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

// respondError maps err to its HTTP status. Internal errors are logged and
// their detail withheld from the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := ecode.CodeOf(err)
	msg := err.Error()
	if code == ecode.Internal {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorBody{Error: msg, Code: code.String()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ecode.Error{Code: ecode.InvalidArgument, Op: "api.decode", Msg: "invalid JSON body", Err: err}
	}
	return nil
}
