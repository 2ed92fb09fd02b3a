package gitsync

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"jukeboxd/pkg/httpapi"
)

type handler struct {
	sync *Synchronizer
}

// NewHandler returns the HTTP endpoint for s.
func NewHandler(s *Synchronizer) http.Handler {
	return httpapi.Recover(httpapi.CORS(&handler{sync: s}))
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpapi.MethodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			httpapi.WriteError(w, http.StatusBadRequest, "files array is required")
			return
		}
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := h.sync.Sync(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}
