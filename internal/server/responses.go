package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	HeaderXHostID     = "X-Host-Id"
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json; charset=utf-8"
)

// RespondWithJSON encodes data as JSON in the response body.
// Headers must have been written already.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, data any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	err := enc.Encode(data)
	if err != nil {
		slog.WarnContext(r.Context(), "Error writing JSON response", slog.Any("error", err))
	}
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	RespondWithJSON(w, r, data)
}
