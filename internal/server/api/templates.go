package api

import (
	"fmt"
	"image/color"
	"net/http"

	"github.com/matsumoto-fabrica/cardmaker/internal/card"
)

type templateResponse struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Background string `json:"background"`
	Accent     string `json:"accent"`
}

type listTemplatesResponse struct {
	Templates []templateResponse `json:"templates"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// TemplatesHandler lists the card template catalog.
type TemplatesHandler struct{}

// NewTemplatesHandler creates a new TemplatesHandler.
func NewTemplatesHandler() *TemplatesHandler {
	return &TemplatesHandler{}
}

// ServeHTTP handles GET /api/templates.
func (h *TemplatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tpls := card.Templates()
	response := listTemplatesResponse{
		Templates: make([]templateResponse, len(tpls)),
		Width:     card.Width,
		Height:    card.Height,
	}
	for i, t := range tpls {
		response.Templates[i] = templateResponse{
			ID:         t.ID,
			Name:       t.Name,
			Background: hexColor(t.Background),
			Accent:     hexColor(t.Accent),
		}
	}

	writeJSON(w, http.StatusOK, response)
}
