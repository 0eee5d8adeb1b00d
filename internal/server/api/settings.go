package api

import (
	"encoding/json"
	"net/http"

	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

type settingsResponse struct {
	Mode      string  `json:"mode"`
	Threshold float64 `json:"threshold"`
}

// updateSettingsRequest fields are optional; absent fields keep their value.
type updateSettingsRequest struct {
	Mode      *string  `json:"mode"`
	Threshold *float64 `json:"threshold"`
}

// SettingsHandler reads and updates the session mode and threshold.
type SettingsHandler struct {
	pipeline Pipeline
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(p Pipeline) *SettingsHandler {
	return &SettingsHandler{pipeline: p}
}

// ServeHTTP handles GET and PUT /api/settings.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) current() settingsResponse {
	return settingsResponse{
		Mode:      h.pipeline.Mode().String(),
		Threshold: h.pipeline.Threshold(),
	}
}

func (h *SettingsHandler) get(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, h.current())
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// validate everything before applying anything
	var mode segment.Mode
	if req.Mode != nil {
		m, err := segment.ParseMode(*req.Mode)
		if err != nil || *req.Mode == "" {
			writeError(w, http.StatusBadRequest, "Invalid mode")
			return
		}
		mode = m
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		writeError(w, http.StatusBadRequest, "Threshold must be within [0,1]")
		return
	}

	if req.Mode != nil {
		if err := h.pipeline.SetMode(mode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Threshold != nil {
		h.pipeline.SetThreshold(*req.Threshold)
	}

	writeJSON(w, http.StatusOK, h.current())
}
