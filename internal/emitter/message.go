package emitter

import (
	"github.com/matsumoto-fabrica/cardmaker/internal/app"
)

type statsMessage struct {
	Seq        uint64  `json:"seq"`
	FPS        int     `json:"fps"`
	Masked     bool    `json:"masked"`
	Mode       string  `json:"mode"`
	Threshold  float64 `json:"threshold"`
	FramesRead uint64  `json:"frames_read"`
	Delivered  uint64  `json:"delivered"`
	Dropped    uint64  `json:"dropped"`
	Processed  uint64  `json:"processed"`
	Captures   uint64  `json:"captures"`
	Timestamp  int64   `json:"timestamp"`
}

func newStatsMessage(u app.Update, s app.Stats) statsMessage {
	return statsMessage{
		Seq:        u.Seq,
		FPS:        u.FPS,
		Masked:     u.Masked(),
		Mode:       u.Mode.String(),
		Threshold:  u.Threshold,
		FramesRead: s.FramesRead,
		Delivered:  s.Delivered,
		Dropped:    s.Dropped,
		Processed:  s.Processed,
		Captures:   s.Captures,
		Timestamp:  u.Timestamp.UnixMilli(),
	}
}

type captureMessage struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Succeeded  bool    `json:"succeeded"`
	Score      float64 `json:"score"`
	Attempt    int     `json:"attempt"`
	Attempts   int     `json:"attempts"`
	Segmented  int     `json:"segmented"`
	Skipped    int     `json:"skipped"`
	Mode       string  `json:"mode"`
	DurationMs int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

func newCaptureMessage(ev app.CaptureEvent) captureMessage {
	m := captureMessage{
		ID:         ev.ID,
		SessionID:  ev.SessionID,
		Succeeded:  ev.Succeeded,
		Score:      ev.Score,
		Attempt:    ev.Attempt,
		Attempts:   ev.Attempts,
		Segmented:  ev.Segmented,
		Skipped:    ev.Skipped,
		Mode:       ev.Mode.String(),
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

type cardMessage struct {
	ID         string `json:"id"`
	CaptureID  string `json:"capture_id"`
	TemplateID int    `json:"template_id"`
	Label      string `json:"label"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

func newCardMessage(ev app.CardEvent) cardMessage {
	return cardMessage{
		ID:         ev.ID,
		CaptureID:  ev.CaptureID,
		TemplateID: ev.TemplateID,
		Label:      ev.Label,
		Width:      ev.Width,
		Height:     ev.Height,
	}
}
