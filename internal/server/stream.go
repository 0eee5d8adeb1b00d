package server

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
)

// StreamHandler serves the live preview as a multipart PNG stream. Each part
// is the latest cutout, or the unmasked frame when there is no subject.
// Slow clients skip updates rather than queue them.
type StreamHandler struct {
	pipeline Pipeline
}

// NewStreamHandler creates a new StreamHandler for the given pipeline.
func NewStreamHandler(p Pipeline) *StreamHandler {
	return &StreamHandler{pipeline: p}
}

// ServeHTTP streams preview images to the client until it disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	updates := make(chan app.Update, 1)
	unsubscribe := h.pipeline.OnPreviewUpdated(func(u app.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if snap := h.pipeline.Snapshot(); snap != nil {
		if err := writePart(w, previewImage(snap)); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case u := <-updates:
			if err := writePart(w, previewImage(&u)); err != nil {
				return
			}
		}
	}
}

func previewImage(u *app.Update) image.Image {
	if u.Cutout != nil {
		return u.Cutout
	}
	return u.Frame
}

func writePart(w http.ResponseWriter, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}

	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/png\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	fmt.Fprintf(w, "\r\n")

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
