package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/burst"
	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
	"github.com/matsumoto-fabrica/cardmaker/internal/card"
	"github.com/matsumoto-fabrica/cardmaker/internal/fixture"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestApp starts an app without a camera; frames are pushed by the test.
func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.PreviewBackend == nil {
		cfg.PreviewBackend = fixture.BrightnessBackend()
	}
	if cfg.CaptureDelay == 0 {
		cfg.CaptureDelay = time.Millisecond
	}
	a := New(cfg)
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(a.Stop)
	return a
}

// push sends a frame with a subject covering fraction of the frame and
// waits for it to be published.
func push(t *testing.T, a *App, fraction float64) Update {
	t.Helper()

	updates := make(chan Update, 4)
	unsubscribe := a.OnPreviewUpdated(func(u Update) { updates <- u })
	defer unsubscribe()

	frame := fixture.SubjectFrame(fixture.FrameWidth, fixture.FrameHeight,
		fixture.CenteredSubject(fixture.FrameWidth, fixture.FrameHeight, fraction))
	a.OnFrame(frame, time.Now())

	select {
	case u := <-updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for preview update")
		return Update{}
	}
}

func TestApp_PreviewUpdates(t *testing.T) {
	a := newTestApp(t, Config{})

	t.Run("subject", func(t *testing.T) {
		u := push(t, a, 0.25)
		if !u.Masked() {
			t.Fatal("expected a cutout")
		}
		if u.Frame.Bounds().Dx() != fixture.FrameWidth || u.Cutout.Bounds().Dy() != fixture.FrameHeight {
			t.Errorf("sizes = %v / %v", u.Frame.Bounds(), u.Cutout.Bounds())
		}
		if got := u.Cutout.NRGBAAt(0, 0).A; got != 0 {
			t.Errorf("corner alpha = %d, want 0", got)
		}
		if got := u.Cutout.NRGBAAt(fixture.FrameWidth/2, fixture.FrameHeight/2).A; got != 255 {
			t.Errorf("center alpha = %d, want 255", got)
		}
		if u.Mode != segment.DefaultMode || u.Threshold != DefaultThreshold {
			t.Errorf("mode/threshold = %v/%v", u.Mode, u.Threshold)
		}
		if snap := a.Snapshot(); snap == nil || snap.Seq != u.Seq {
			t.Errorf("Snapshot = %+v, want seq %d", snap, u.Seq)
		}
	})

	t.Run("no subject shows frame", func(t *testing.T) {
		u := push(t, a, 0)
		if u.Masked() {
			t.Error("expected no cutout for an empty scene")
		}
		if u.Frame == nil {
			t.Error("expected the unmasked frame")
		}
	})

	t.Run("mode change applies to next frame", func(t *testing.T) {
		if err := a.SetMode(segment.ForegroundInstanceMask); err != nil {
			t.Fatalf("SetMode: %v", err)
		}
		u := push(t, a, 0.25)
		if u.Mode != segment.ForegroundInstanceMask || !u.Masked() {
			t.Errorf("update mode = %v masked = %v", u.Mode, u.Masked())
		}
	})

	if st := a.Stats(); st.Processed < 3 {
		t.Errorf("Processed = %d, want >= 3", st.Processed)
	}
}

func TestApp_SetThreshold(t *testing.T) {
	a := New(Config{PreviewBackend: segment.NewMockBackend()})
	defer a.Stop()

	tests := []struct {
		in, want float64
	}{
		{in: 0.7, want: 0.7},
		{in: 0.2, want: MinPreviewThreshold},
		{in: 1, want: MaxPreviewThreshold},
		{in: MinPreviewThreshold, want: MinPreviewThreshold},
	}
	for _, tt := range tests {
		if got := a.SetThreshold(tt.in); got != tt.want {
			t.Errorf("SetThreshold(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := a.Threshold(); got != tt.want {
			t.Errorf("Threshold() = %v, want %v", got, tt.want)
		}
	}

	if err := a.SetMode(segment.Mode(42)); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestApp_SettingsPersist(t *testing.T) {
	s := newTestStore(t)

	first := New(Config{PreviewBackend: segment.NewMockBackend(), Store: s})
	if err := first.SetMode(segment.PersonAccurate); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	first.SetThreshold(0.65)
	first.Stop()

	second := New(Config{PreviewBackend: segment.NewMockBackend(), Store: s, Mode: segment.PersonFast})
	defer second.Stop()
	if second.Mode() != segment.PersonAccurate {
		t.Errorf("Mode = %v, want stored %v", second.Mode(), segment.PersonAccurate)
	}
	if second.Threshold() != 0.65 {
		t.Errorf("Threshold = %v, want 0.65", second.Threshold())
	}
}

func TestApp_CaptureAndCompose(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, Config{Store: s})

	var captured []CaptureEvent
	var cards []CardEvent
	a.OnCapture(func(ev CaptureEvent) { captured = append(captured, ev) })
	a.OnCard(func(ev CardEvent) { cards = append(cards, ev) })

	if _, err := a.Compose(0, "alice"); !errors.Is(err, ErrNoCapture) {
		t.Fatalf("Compose before capture err = %v, want ErrNoCapture", err)
	}

	push(t, a, 0.3)

	cand, err := a.CaptureBest(context.Background(), 2, time.Millisecond)
	if err != nil {
		t.Fatalf("CaptureBest: %v", err)
	}
	if cand.Score <= 0.2 || cand.Mode != segment.PersonAccurate {
		t.Errorf("candidate score = %v mode = %v", cand.Score, cand.Mode)
	}
	if a.LastCapture() != cand {
		t.Error("LastCapture does not return the new candidate")
	}

	img, err := a.Compose(2, "alice")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if img.Bounds().Dx() != card.Width || img.Bounds().Dy() != card.Height {
		t.Errorf("card size = %v", img.Bounds())
	}
	if a.LatestCard() != img {
		t.Error("LatestCard does not return the new card")
	}

	if _, err := a.Compose(9, "alice"); !errors.Is(err, card.ErrUnknownTemplate) {
		t.Errorf("unknown template err = %v", err)
	}

	if len(captured) != 1 || !captured[0].Succeeded || captured[0].ID != cand.ID {
		t.Errorf("capture events = %+v", captured)
	}
	if len(cards) != 1 || cards[0].CaptureID != cand.ID || cards[0].TemplateID != 2 {
		t.Errorf("card events = %+v", cards)
	}

	rec, err := s.Captures().GetByID(cand.ID)
	if err != nil {
		t.Fatalf("journal capture: %v", err)
	}
	if !rec.Succeeded || rec.SessionID != a.SessionID() || rec.Mode != "person_accurate" {
		t.Errorf("journal = %+v", rec)
	}
	journaled, err := s.Cards().ListByCapture(cand.ID)
	if err != nil || len(journaled) != 1 {
		t.Errorf("journal cards = %v, %v", journaled, err)
	}

	// a new capture invalidates the rendered card
	if _, err := a.CaptureBest(context.Background(), 1, 0); err != nil {
		t.Fatalf("second CaptureBest: %v", err)
	}
	if a.LatestCard() != nil {
		t.Error("card survived a new capture")
	}
}

func TestApp_CaptureEmpty(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, Config{Store: s})

	push(t, a, 0)

	_, err := a.CaptureBest(context.Background(), 2, time.Millisecond)
	if !errors.Is(err, burst.ErrCaptureEmpty) {
		t.Fatalf("err = %v, want ErrCaptureEmpty", err)
	}
	if a.LastCapture() != nil {
		t.Error("failed capture replaced LastCapture")
	}

	list, err := s.Captures().List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Succeeded || list[0].Segmented != 2 {
		t.Errorf("journal = %+v", list)
	}

	img, err := a.ComposeBackground(1, "bob")
	if err != nil {
		t.Fatalf("ComposeBackground: %v", err)
	}
	if img.Bounds().Dx() != card.Width {
		t.Errorf("background card = %v", img.Bounds())
	}
}

func TestApp_NoFrames(t *testing.T) {
	a := newTestApp(t, Config{})

	_, err := a.CaptureBest(context.Background(), 2, time.Millisecond)
	if !errors.Is(err, burst.ErrCaptureEmpty) {
		t.Errorf("err = %v, want ErrCaptureEmpty", err)
	}
}

func TestApp_Disabled(t *testing.T) {
	a := newTestApp(t, Config{})
	a.SetEnabled(false)
	if a.IsEnabled() {
		t.Fatal("IsEnabled = true after SetEnabled(false)")
	}

	frame := fixture.SubjectFrame(fixture.FrameWidth, fixture.FrameHeight,
		fixture.CenteredSubject(fixture.FrameWidth, fixture.FrameHeight, 0.25))
	a.OnFrame(frame, time.Now())

	time.Sleep(50 * time.Millisecond)
	if a.Snapshot() != nil || a.Stats().Processed != 0 {
		t.Error("disabled app processed a frame")
	}
}

func TestApp_CameraPump(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	frames := fixture.Sequence(0.1, 0.2, 0.3)
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()
	cam := capture.NewMockCamera(frames, false)
	cam.SetFPS(100)

	a := New(Config{Camera: cam, PreviewBackend: fixture.BrightnessBackend()})
	defer a.Stop()
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-a.PumpDone():
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not reach end of stream")
	}

	if got := a.Stats().FramesRead; got != 3 {
		t.Errorf("FramesRead = %d, want 3", got)
	}
	if cam.Reads() != 3 {
		t.Errorf("camera reads = %d, want 3", cam.Reads())
	}
}

func TestApp_Lifecycle(t *testing.T) {
	a := New(Config{PreviewBackend: segment.NewMockBackend()})
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Errorf("second Start: %v", err)
	}
	a.Stop()
	a.Stop()

	if err := a.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop err = %v, want ErrStopped", err)
	}

	// frames after Stop are released, not queued
	a.OnFrame(gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3), time.Now())
}
