package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
	"github.com/matsumoto-fabrica/cardmaker/internal/card"
	"github.com/matsumoto-fabrica/cardmaker/internal/fixture"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

func newIntegrationServer(t *testing.T) (*app.App, *Server, *httptest.Server) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a := app.New(app.Config{
		PreviewBackend: fixture.BrightnessBackend(),
		Store:          st,
		CaptureDelay:   time.Millisecond,
	})
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(a.Stop)

	srv := New(Config{Store: st, Pipeline: a})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return a, srv, ts
}

func pushSubject(t *testing.T, a *app.App, fraction float64) app.Update {
	t.Helper()

	updates := make(chan app.Update, 4)
	unsubscribe := a.OnPreviewUpdated(func(u app.Update) { updates <- u })
	defer unsubscribe()

	frame := fixture.SubjectFrame(fixture.FrameWidth, fixture.FrameHeight,
		fixture.CenteredSubject(fixture.FrameWidth, fixture.FrameHeight, fraction))
	a.OnFrame(frame, time.Now())

	select {
	case u := <-updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for preview update")
		return app.Update{}
	}
}

func TestAPI_CaptureWorkflow(t *testing.T) {
	a, _, ts := newIntegrationServer(t)
	client := ts.Client()

	// 1. Capture before any frame is rejected
	resp, err := client.Post(ts.URL+"/api/capture", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/capture error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("POST /api/capture status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}

	// 2. Lower the threshold
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/settings", strings.NewReader(`{"threshold": 0.7}`))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("PUT /api/settings error = %v", err)
	}
	var settings struct {
		Mode      string  `json:"mode"`
		Threshold float64 `json:"threshold"`
	}
	json.NewDecoder(resp.Body).Decode(&settings)
	resp.Body.Close()
	if settings.Threshold != 0.7 {
		t.Errorf("threshold = %v, want 0.7", settings.Threshold)
	}
	if settings.Mode != "person_balanced" {
		t.Errorf("mode = %q, want person_balanced", settings.Mode)
	}

	// 3. Feed a frame and capture it
	if u := pushSubject(t, a, 0.25); !u.Masked() {
		t.Fatal("expected a masked preview update")
	}

	resp, err = client.Post(ts.URL+"/api/capture", "application/json", bytes.NewBufferString(`{"attempts": 2, "delay_ms": 1}`))
	if err != nil {
		t.Fatalf("POST /api/capture error = %v", err)
	}
	var captured struct {
		ID     string  `json:"id"`
		Score  float64 `json:"score"`
		Mode   string  `json:"mode"`
		Width  int     `json:"width"`
		Height int     `json:"height"`
	}
	json.NewDecoder(resp.Body).Decode(&captured)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/capture status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if captured.ID == "" || captured.Score <= 0 {
		t.Errorf("capture = %+v, want id and positive score", captured)
	}
	if captured.Mode != "person_accurate" {
		t.Errorf("capture mode = %q, want person_accurate", captured.Mode)
	}
	if captured.Width != fixture.FrameWidth || captured.Height != fixture.FrameHeight {
		t.Errorf("capture size = %dx%d", captured.Width, captured.Height)
	}

	// 4. Render a card
	resp, err = client.Post(ts.URL+"/api/card", "application/json", bytes.NewBufferString(`{"template_id": 1, "label": "ace"}`))
	if err != nil {
		t.Fatalf("POST /api/card error = %v", err)
	}
	img, err := png.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if img.Bounds().Dx() != card.Width || img.Bounds().Dy() != card.Height {
		t.Errorf("card size = %v, want %dx%d", img.Bounds(), card.Width, card.Height)
	}

	resp, _ = client.Get(ts.URL + "/api/card")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/card status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// 5. The journal holds both attempts
	resp, _ = client.Get(ts.URL + "/api/captures")
	var journal struct {
		Captures []struct {
			ID        string `json:"id"`
			Succeeded bool   `json:"succeeded"`
		} `json:"captures"`
	}
	json.NewDecoder(resp.Body).Decode(&journal)
	resp.Body.Close()
	if len(journal.Captures) != 2 {
		t.Fatalf("len(captures) = %d, want 2", len(journal.Captures))
	}
	succeeded := 0
	for _, c := range journal.Captures {
		if c.Succeeded {
			succeeded++
			if c.ID != captured.ID {
				t.Errorf("journal id = %s, want %s", c.ID, captured.ID)
			}
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
}

func TestAPI_PreviewStream(t *testing.T) {
	a, _, ts := newIntegrationServer(t)
	pushSubject(t, a, 0.25)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/preview/stream", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/preview/stream error = %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("content type = %q (%v)", resp.Header.Get("Content-Type"), err)
	}

	part, err := multipart.NewReader(resp.Body, params["boundary"]).NextPart()
	if err != nil {
		t.Fatalf("NextPart() error = %v", err)
	}
	img, err := png.Decode(part)
	if err != nil {
		t.Fatalf("decode part: %v", err)
	}
	if img.Bounds().Dx() != fixture.FrameWidth {
		t.Errorf("part width = %d, want %d", img.Bounds().Dx(), fixture.FrameWidth)
	}
}

func TestAPI_PreviewSocket(t *testing.T) {
	a, srv, ts := newIntegrationServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/preview/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.socket.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	u := pushSubject(t, a, 0.25)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg previewMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Seq != u.Seq {
		t.Errorf("seq = %d, want %d", msg.Seq, u.Seq)
	}
	if !msg.Masked {
		t.Error("expected masked update")
	}
	if msg.Mode != "person_balanced" {
		t.Errorf("mode = %q, want person_balanced", msg.Mode)
	}

	srv.Close()
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after server Close")
	}
}
