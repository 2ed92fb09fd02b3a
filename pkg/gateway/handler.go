package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"jukeboxd/pkg/httpapi"
)

// StatusResponse is returned for the status action.
type StatusResponse struct {
	Success   bool             `json:"success"`
	Providers []ProviderStatus `json:"providers"`
}

type handler struct {
	gateway *Gateway
}

// NewHandler returns the HTTP endpoint for g. OPTIONS is answered with 204
// and panics become 500 JSON responses.
func NewHandler(g *Gateway) http.Handler {
	return httpapi.Recover(httpapi.CORS(&handler{gateway: g}))
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeStatus(w)
		return
	case http.MethodPost:
	default:
		httpapi.MethodNotAllowed(w, http.MethodPost, http.MethodGet, http.MethodOptions)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			httpapi.WriteError(w, http.StatusBadRequest, "request body is required")
			return
		}
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionStatus:
		h.writeStatus(w)
	case "", ActionChat:
		h.chat(w, r, req)
	default:
		httpapi.WriteError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request, req Request) {
	result, err := h.gateway.Chat(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !result.Success {
		httpapi.WriteJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) writeStatus(w http.ResponseWriter) {
	httpapi.WriteJSON(w, http.StatusOK, StatusResponse{
		Success:   true,
		Providers: h.gateway.Status(),
	})
}
