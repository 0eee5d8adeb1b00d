package api

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
	"github.com/matsumoto-fabrica/cardmaker/internal/card"
)

type composeRequest struct {
	TemplateID     int    `json:"template_id"`
	Label          string `json:"label"`
	BackgroundOnly bool   `json:"background_only"`
}

// CardHandler renders cards and serves the latest one.
type CardHandler struct {
	pipeline Pipeline
}

// NewCardHandler creates a new CardHandler.
func NewCardHandler(p Pipeline) *CardHandler {
	return &CardHandler{pipeline: p}
}

// ServeHTTP handles POST /api/card (render) and GET /api/card (latest).
func (h *CardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		img := h.pipeline.LatestCard()
		if img == nil {
			writeError(w, http.StatusNotFound, "No card rendered")
			return
		}
		writePNG(w, img)
	case http.MethodPost:
		h.compose(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CardHandler) compose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var (
		img *image.NRGBA
		err error
	)
	if req.BackgroundOnly {
		img, err = h.pipeline.ComposeBackground(req.TemplateID, req.Label)
	} else {
		img, err = h.pipeline.Compose(req.TemplateID, req.Label)
	}

	switch {
	case errors.Is(err, card.ErrUnknownTemplate):
		writeError(w, http.StatusBadRequest, "Unknown template")
		return
	case errors.Is(err, app.ErrNoCapture):
		writeError(w, http.StatusConflict, "No capture to compose")
		return
	case errors.Is(err, card.ErrNoCutout):
		writeError(w, http.StatusUnprocessableEntity, "Capture has no subject")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to render card")
		return
	}

	writePNG(w, img)
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	png.Encode(w, img)
}
