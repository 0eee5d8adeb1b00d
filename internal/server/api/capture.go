package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/matsumoto-fabrica/cardmaker/internal/burst"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

// maxCaptureAttempts bounds attempts requested over HTTP.
const maxCaptureAttempts = 20

type captureRequest struct {
	Attempts int `json:"attempts"`
	DelayMs  int `json:"delay_ms"`
}

type captureResponse struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Attempt    int     `json:"attempt"`
	Mode       string  `json:"mode"`
	Threshold  float64 `json:"threshold"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	CapturedAt string  `json:"captured_at"`
}

func toCaptureResponse(c *burst.Candidate) captureResponse {
	return captureResponse{
		ID:         c.ID,
		Score:      c.Score,
		Attempt:    c.Attempt,
		Mode:       c.Mode.String(),
		Threshold:  c.Threshold,
		Width:      c.Cutout.Bounds().Dx(),
		Height:     c.Cutout.Bounds().Dy(),
		CapturedAt: c.CapturedAt.Format(time.RFC3339Nano),
	}
}

// CaptureHandler triggers burst captures and reports the last one.
type CaptureHandler struct {
	pipeline Pipeline
}

// NewCaptureHandler creates a new CaptureHandler.
func NewCaptureHandler(p Pipeline) *CaptureHandler {
	return &CaptureHandler{pipeline: p}
}

// ServeHTTP handles POST /api/capture (run a capture) and GET /api/capture
// (last successful capture).
func (h *CaptureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.last(w)
	case http.MethodPost:
		h.capture(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CaptureHandler) last(w http.ResponseWriter) {
	c := h.pipeline.LastCapture()
	if c == nil {
		writeError(w, http.StatusNotFound, "No capture yet")
		return
	}
	writeJSON(w, http.StatusOK, toCaptureResponse(c))
}

func (h *CaptureHandler) capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Attempts < 0 || req.Attempts > maxCaptureAttempts || req.DelayMs < 0 {
		writeError(w, http.StatusBadRequest, "Invalid attempts or delay")
		return
	}

	c, err := h.pipeline.CaptureBest(r.Context(), req.Attempts, time.Duration(req.DelayMs)*time.Millisecond)
	switch {
	case errors.Is(err, burst.ErrCaptureInProgress):
		writeError(w, http.StatusConflict, "Capture already in progress")
		return
	case errors.Is(err, burst.ErrCaptureEmpty):
		writeError(w, http.StatusUnprocessableEntity, "Capture failed, retry")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Capture failed")
		return
	}

	writeJSON(w, http.StatusOK, toCaptureResponse(c))
}

type journalEntry struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Mode       string  `json:"mode"`
	Threshold  float64 `json:"threshold"`
	Attempts   int     `json:"attempts"`
	Segmented  int     `json:"segmented"`
	Skipped    int     `json:"skipped"`
	BestScore  float64 `json:"best_score"`
	Succeeded  bool    `json:"succeeded"`
	DurationMs int64   `json:"duration_ms"`
	CreatedAt  string  `json:"created_at"`
}

type listCapturesResponse struct {
	Captures []journalEntry `json:"captures"`
}

// JournalHandler lists journaled captures.
type JournalHandler struct {
	store *store.Store
}

// NewJournalHandler creates a new JournalHandler with the given store.
func NewJournalHandler(s *store.Store) *JournalHandler {
	return &JournalHandler{store: s}
}

// ServeHTTP handles GET /api/captures.
func (h *JournalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	captures, err := h.store.Captures().List(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list captures")
		return
	}

	response := listCapturesResponse{Captures: make([]journalEntry, 0, len(captures))}
	for _, c := range captures {
		response.Captures = append(response.Captures, journalEntry{
			ID:         c.ID,
			SessionID:  c.SessionID,
			Mode:       c.Mode,
			Threshold:  c.Threshold,
			Attempts:   c.Attempts,
			Segmented:  c.Segmented,
			Skipped:    c.Skipped,
			BestScore:  c.BestScore,
			Succeeded:  c.Succeeded,
			DurationMs: c.Duration.Milliseconds(),
			CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
