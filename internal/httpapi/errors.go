package httpapi

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable error codes; clients match on these, not on
// messages or HTTP status alone.
const (
	CodeNotFound   = "E_NOT_FOUND"
	CodeBadRequest = "E_BAD_REQUEST"
	CodeInternal   = "E_INTERNAL"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusNotFound, CodeNotFound, msg)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusBadRequest, CodeBadRequest, msg)
}

func internal(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusInternalServerError, CodeInternal, msg)
}
