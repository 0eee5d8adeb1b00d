// Package api provides HTTP API handlers for the card maker.
package api

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"time"

	"github.com/matsumoto-fabrica/cardmaker/internal/burst"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

// Pipeline is the part of the application the API drives.
type Pipeline interface {
	Mode() segment.Mode
	SetMode(m segment.Mode) error
	Threshold() float64
	SetThreshold(t float64) float64

	CaptureBest(ctx context.Context, attempts int, delay time.Duration) (*burst.Candidate, error)
	LastCapture() *burst.Candidate

	Compose(templateID int, label string) (*image.NRGBA, error)
	ComposeBackground(templateID int, label string) (*image.NRGBA, error)
	LatestCard() *image.NRGBA
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
