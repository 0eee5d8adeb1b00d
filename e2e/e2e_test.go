package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
	"github.com/matsumoto-fabrica/cardmaker/internal/fixture"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
	"github.com/matsumoto-fabrica/cardmaker/internal/server"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

type harness struct {
	app     *app.App
	backend *segment.MockBackend
	ts      *httptest.Server
}

func newHarness(t *testing.T, mode segment.Mode) *harness {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	backend := fixture.BrightnessBackend()
	a := app.New(app.Config{
		PreviewBackend: backend,
		Store:          s,
		Mode:           mode,
		CaptureDelay:   time.Millisecond,
	})
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(a.Stop)

	srv := server.New(server.Config{Store: s, Pipeline: a})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	return &harness{app: a, backend: backend, ts: ts}
}

// feed pushes a frame with a subject in rect and waits for its preview.
func (h *harness) feed(t *testing.T, width, height int, rect image.Rectangle) app.Update {
	t.Helper()

	updates := make(chan app.Update, 4)
	unsubscribe := h.app.OnPreviewUpdated(func(u app.Update) { updates <- u })
	defer unsubscribe()

	h.app.OnFrame(fixture.SubjectFrame(width, height, rect), time.Now())

	select {
	case u := <-updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for preview update")
		return app.Update{}
	}
}

func (h *harness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := h.ts.Client().Post(h.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	return resp
}

func TestE2E_InstanceCutout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t, segment.ForegroundInstanceMask)
	subject := image.Rect(50, 30, 150, 130)
	u := h.feed(t, 200, 160, subject)

	if !u.Masked() {
		t.Fatal("expected a cutout")
	}
	if u.Mode != segment.ForegroundInstanceMask {
		t.Errorf("mode = %v, want %v", u.Mode, segment.ForegroundInstanceMask)
	}

	inside, outside := 0, 0
	b := u.Cutout.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			a := u.Cutout.NRGBAAt(x, y).A
			if image.Pt(x, y).In(subject) {
				if a != 255 {
					inside++
				}
			} else if a != 0 {
				outside++
			}
		}
	}
	if inside != 0 || outside != 0 {
		t.Errorf("alpha mismatches: %d inside subject, %d outside", inside, outside)
	}
}

func TestE2E_UniformProbability(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tests := []struct {
		name        string
		probability float32
		wantAlpha   uint8
		wantStatus  int
	}{
		{"above threshold", 0.95, 255, http.StatusOK},
		{"below threshold", 0.80, 0, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, segment.PersonBalanced)
			h.backend.SetFunc(nil)
			h.backend.SetUniform(image.Pt(40, 30), tt.probability)
			if got := h.app.SetThreshold(0.9); got != 0.9 {
				t.Fatalf("SetThreshold() = %v, want 0.9", got)
			}

			u := h.feed(t, fixture.FrameWidth, fixture.FrameHeight, image.Rect(0, 0, 1, 1))
			if !u.Masked() {
				t.Fatal("expected a cutout")
			}
			for i := 3; i < len(u.Cutout.Pix); i += 4 {
				if u.Cutout.Pix[i] != tt.wantAlpha {
					t.Fatalf("alpha at byte %d = %d, want %d", i, u.Cutout.Pix[i], tt.wantAlpha)
				}
			}

			resp := h.post(t, "/api/capture", `{"attempts": 2, "delay_ms": 1}`)
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("capture status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestE2E_CaptureAndCard(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t, segment.PersonBalanced)

	t.Run("NoSubject", func(t *testing.T) {
		u := h.feed(t, fixture.FrameWidth, fixture.FrameHeight, image.Rectangle{})
		if u.Masked() {
			t.Error("expected the unmasked frame for an empty scene")
		}

		resp := h.post(t, "/api/capture", "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("capture status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
		}

		resp = h.post(t, "/api/card", `{"template_id": 0, "label": "Alice"}`)
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("card status = %d, want %d", resp.StatusCode, http.StatusConflict)
		}
	})

	t.Run("Capture", func(t *testing.T) {
		h.feed(t, fixture.FrameWidth, fixture.FrameHeight,
			fixture.CenteredSubject(fixture.FrameWidth, fixture.FrameHeight, 0.3))

		resp := h.post(t, "/api/capture", `{"attempts": 3, "delay_ms": 1}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("capture status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var got struct {
			Score float64 `json:"score"`
			Mode  string  `json:"mode"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if got.Score < 0.2 || got.Score > 0.4 {
			t.Errorf("score = %v, want about 0.3", got.Score)
		}
		if got.Mode != segment.PersonAccurate.String() {
			t.Errorf("mode = %q, want %q", got.Mode, segment.PersonAccurate.String())
		}
	})

	t.Run("DeterministicCard", func(t *testing.T) {
		render := func() []byte {
			resp := h.post(t, "/api/card", `{"template_id": 2, "label": "Alice"}`)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("card status = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read error = %v", err)
			}
			return data
		}

		first, second := render(), render()
		if !bytes.Equal(first, second) {
			t.Error("identical compose requests produced different cards")
		}
	})

	t.Run("Journal", func(t *testing.T) {
		resp, err := h.ts.Client().Get(h.ts.URL + "/api/captures")
		if err != nil {
			t.Fatalf("GET /api/captures error = %v", err)
		}
		defer resp.Body.Close()

		var journal struct {
			Captures []struct {
				Succeeded bool `json:"succeeded"`
				Attempts  int  `json:"attempts"`
			} `json:"captures"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&journal); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if len(journal.Captures) != 2 {
			t.Fatalf("len(captures) = %d, want 2", len(journal.Captures))
		}
	})
}

func TestE2E_DetectorFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t, segment.PersonBalanced)
	h.backend.SetError(errors.New("model crashed"))

	u := h.feed(t, fixture.FrameWidth, fixture.FrameHeight,
		fixture.CenteredSubject(fixture.FrameWidth, fixture.FrameHeight, 0.3))
	if u.Masked() {
		t.Error("detector failure should fall back to the unmasked frame")
	}
	if u.Frame == nil {
		t.Fatal("expected the frame to be published")
	}

	resp := h.post(t, "/api/capture", `{"attempts": 3, "delay_ms": 1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("capture status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}

	resp = h.post(t, "/api/card", `{"template_id": 1, "label": "Alice", "background_only": true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("background card status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
