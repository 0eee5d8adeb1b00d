// Package app wires the card maker together. It owns the three execution
// contexts: the frame-processing loop that keeps the live preview current,
// the capture context that runs burst captures on their own engine, and the
// presentation side that only reads published results.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/burst"
	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
	"github.com/matsumoto-fabrica/cardmaker/internal/card"
	"github.com/matsumoto-fabrica/cardmaker/internal/preview"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

// Preview threshold range and capture defaults.
const (
	MinPreviewThreshold = 0.5
	MaxPreviewThreshold = 0.99
	DefaultThreshold    = 0.9
	DefaultAttempts     = burst.DefaultAttempts
	DefaultCaptureDelay = burst.DefaultDelay
)

var (
	// ErrNoCapture is returned by Compose before any capture succeeded.
	ErrNoCapture = errors.New("no capture available")

	// ErrStopped is returned by Start once the app has been stopped.
	ErrStopped = errors.New("app stopped")
)

// Config holds configuration options for the application.
type Config struct {
	// Camera feeds the pipeline after Start. It may be nil when frames are
	// pushed through OnFrame by the caller.
	Camera capture.Camera
	// PreviewBackend runs live preview segmentation.
	PreviewBackend segment.Backend
	// CaptureBackend runs burst capture; nil shares PreviewBackend.
	CaptureBackend segment.Backend
	// Store persists settings and the journal; optional.
	Store *store.Store

	Mode            segment.Mode
	Threshold       float64
	Sharpness       float64
	MinInstanceArea int

	Attempts       int
	CaptureDelay   time.Duration
	CaptureTimeout time.Duration

	Logger logrus.FieldLogger
}

// Update is one published preview result. Images are immutable once
// published.
type Update struct {
	Seq       uint64
	Timestamp time.Time
	Frame     *image.NRGBA
	// Cutout is nil when no subject was found; show Frame instead.
	Cutout    *image.NRGBA
	FPS       int
	Mode      segment.Mode
	Threshold float64
}

// Masked reports whether the update carries a cutout.
func (u *Update) Masked() bool {
	return u.Cutout != nil
}

// CaptureEvent describes a finished capture, successful or not.
type CaptureEvent struct {
	ID        string
	SessionID string
	Succeeded bool
	Score     float64
	Attempt   int
	Attempts  int
	Segmented int
	Skipped   int
	Mode      segment.Mode
	Duration  time.Duration
	Err       error
}

// CardEvent describes a rendered card.
type CardEvent struct {
	ID         string
	CaptureID  string
	TemplateID int
	Label      string
	Width      int
	Height     int
}

// Stats reports pipeline counters.
type Stats struct {
	FramesRead uint64
	Delivered  uint64
	Dropped    uint64
	Processed  uint64
	FPS        int
	Captures   uint64
}

// App is the main application that orchestrates preview, capture and card
// rendering.
type App struct {
	config    Config
	log       logrus.FieldLogger
	sessionID string

	previewEngine *segment.Engine
	captureEngine *segment.Engine
	compositor    *preview.Compositor
	meter         *preview.Meter
	capturer      *burst.Capturer

	mailbox   *capture.Mailbox
	current   capture.LatestFrame
	previewed capture.LatestFrame

	seq        atomic.Uint64
	read       atomic.Uint64
	processed  atomic.Uint64
	captures   atomic.Uint64
	mode       atomic.Int32
	threshold  atomic.Uint64
	enabled    atomic.Bool
	latest     atomic.Pointer[Update]
	lastCard   atomic.Pointer[image.NRGBA]
	lastResult atomic.Pointer[burst.Candidate]

	hooksMu     sync.Mutex
	subscribers map[int]func(Update)
	nextSub     int
	onCapture   []func(CaptureEvent)
	onCard      []func(CardEvent)

	mu       sync.Mutex
	stopCh   chan struct{}
	pumpDone chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

// New creates a new App instance with the given configuration. Settings
// persisted in the store override the configured mode and threshold.
func New(config Config) *App {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.CaptureBackend == nil {
		config.CaptureBackend = config.PreviewBackend
	}
	if config.Attempts <= 0 {
		config.Attempts = DefaultAttempts
	}
	if config.CaptureDelay <= 0 {
		config.CaptureDelay = DefaultCaptureDelay
	}
	if !config.Mode.Valid() {
		config.Mode = segment.DefaultMode
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}

	a := &App{
		config:      config,
		log:         config.Logger.WithField("component", "app"),
		sessionID:   uuid.New().String(),
		compositor:  preview.NewCompositor(config.Sharpness),
		meter:       preview.NewMeter(),
		mailbox:     capture.NewMailbox(),
		subscribers: make(map[int]func(Update)),
		pumpDone:    make(chan struct{}),
	}

	a.previewEngine = segment.NewEngine(segment.Config{
		Backend:         config.PreviewBackend,
		MinInstanceArea: config.MinInstanceArea,
		Logger:          config.Logger,
	})
	a.captureEngine = segment.NewEngine(segment.Config{
		Backend:         config.CaptureBackend,
		MinInstanceArea: config.MinInstanceArea,
		Logger:          config.Logger,
	})
	a.capturer = burst.New(burst.Config{
		Segmenter: a.captureEngine,
		Renderer:  a.compositor,
		Frames:    latestFrames{current: &a.current, previewed: &a.previewed},
		Logger:    config.Logger,
	})

	a.mode.Store(int32(config.Mode))
	a.threshold.Store(math.Float64bits(ClampThreshold(config.Threshold)))
	a.enabled.Store(true)
	a.loadSettings()

	return a
}

// latestFrames exposes the frame holders to the capturer.
type latestFrames struct {
	current   *capture.LatestFrame
	previewed *capture.LatestFrame
}

func (f latestFrames) Previewed() *capture.Frame { return f.previewed.Load() }
func (f latestFrames) Current() *capture.Frame   { return f.current.Load() }

// ClampThreshold limits t to the live preview range.
func ClampThreshold(t float64) float64 {
	if math.IsNaN(t) {
		return DefaultThreshold
	}
	return math.Min(math.Max(t, MinPreviewThreshold), MaxPreviewThreshold)
}

func (a *App) loadSettings() {
	if a.config.Store == nil {
		return
	}
	settings := a.config.Store.Settings()

	if v, err := settings.Get(store.SettingMode); err == nil {
		if m, err := segment.ParseMode(v); err == nil {
			a.mode.Store(int32(m))
		} else {
			a.log.WithError(err).Warn("ignoring stored mode")
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		a.log.WithError(err).Warn("failed to load stored mode")
	}

	if v, err := settings.GetFloat(store.SettingThreshold); err == nil {
		a.threshold.Store(math.Float64bits(ClampThreshold(v)))
	} else if !errors.Is(err, store.ErrNotFound) {
		a.log.WithError(err).Warn("failed to load stored threshold")
	}
}

// SessionID identifies this run in the journal.
func (a *App) SessionID() string {
	return a.sessionID
}

// Mode returns the session segmentation mode.
func (a *App) Mode() segment.Mode {
	return segment.Mode(a.mode.Load())
}

// SetMode changes the session mode. It takes effect from the next frame;
// frames already being segmented finish in the mode they started with.
func (a *App) SetMode(m segment.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid mode %d", int(m))
	}
	a.mode.Store(int32(m))
	a.persist(store.SettingMode, m.String())
	a.log.WithField("mode", m).Info("segmentation mode changed")
	return nil
}

// Threshold returns the preview binarization threshold.
func (a *App) Threshold() float64 {
	return math.Float64frombits(a.threshold.Load())
}

// SetThreshold sets the preview threshold, clamped to
// [MinPreviewThreshold, MaxPreviewThreshold], and returns the value applied.
func (a *App) SetThreshold(t float64) float64 {
	t = ClampThreshold(t)
	a.threshold.Store(math.Float64bits(t))
	a.persist(store.SettingThreshold, fmt.Sprintf("%g", t))
	return t
}

func (a *App) persist(key, value string) {
	if a.config.Store == nil {
		return
	}
	if err := a.config.Store.Settings().Set(key, value); err != nil {
		a.log.WithError(err).WithField("key", key).Warn("failed to persist setting")
	}
}

// SetEnabled pauses or resumes the live preview. Frames arriving while
// disabled are discarded.
func (a *App) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// IsEnabled returns whether the live preview is running.
func (a *App) IsEnabled() bool {
	return a.enabled.Load()
}

// OnPreviewUpdated registers fn to receive every published preview update.
// Callbacks run on the frame-processing goroutine and must return quickly.
// The returned function unsubscribes.
func (a *App) OnPreviewUpdated(fn func(Update)) func() {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()

	id := a.nextSub
	a.nextSub++
	a.subscribers[id] = fn

	return func() {
		a.hooksMu.Lock()
		defer a.hooksMu.Unlock()
		delete(a.subscribers, id)
	}
}

// OnCapture registers fn to be called after every capture.
func (a *App) OnCapture(fn func(CaptureEvent)) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.onCapture = append(a.onCapture, fn)
}

// OnCard registers fn to be called after every card render.
func (a *App) OnCard(fn func(CardEvent)) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.onCard = append(a.onCard, fn)
}

// Snapshot returns the latest preview update, or nil before the first frame.
func (a *App) Snapshot() *Update {
	return a.latest.Load()
}

// FPS returns the preview frame rate over the last completed second.
func (a *App) FPS() int {
	return a.meter.FPS()
}

// Stats returns pipeline counters.
func (a *App) Stats() Stats {
	mb := a.mailbox.Stats()
	return Stats{
		FramesRead: a.read.Load(),
		Delivered:  mb.Delivered,
		Dropped:    mb.Dropped,
		Processed:  a.processed.Load(),
		FPS:        a.FPS(),
		Captures:   a.captures.Load(),
	}
}

// CaptureBest runs a burst capture in the session mode upgraded to its
// highest accuracy. Zero attempts or delay use the configured defaults.
// The preview keeps running while the capture is in progress.
func (a *App) CaptureBest(ctx context.Context, attempts int, delay time.Duration) (*burst.Candidate, error) {
	if attempts <= 0 {
		attempts = a.config.Attempts
	}
	if delay <= 0 {
		delay = a.config.CaptureDelay
	}
	if a.config.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.CaptureTimeout)
		defer cancel()
	}

	req := burst.Request{
		Attempts:  attempts,
		Delay:     delay,
		Mode:      a.Mode(),
		Threshold: a.Threshold(),
	}
	out, err := a.capturer.CaptureBest(ctx, req)
	if errors.Is(err, burst.ErrCaptureInProgress) {
		return nil, err
	}
	a.captures.Add(1)

	ev := CaptureEvent{
		ID:        uuid.New().String(),
		SessionID: a.sessionID,
		Attempts:  out.Attempts,
		Segmented: out.Segmented,
		Skipped:   out.Skipped,
		Mode:      req.Mode.Highest(),
		Duration:  out.Duration,
		Err:       err,
	}
	if err == nil {
		ev.ID = out.Best.ID
		ev.Succeeded = true
		ev.Score = out.Best.Score
		ev.Attempt = out.Best.Attempt
		a.lastResult.Store(out.Best)
		a.lastCard.Store(nil)
	} else {
		a.log.WithError(err).WithField("attempts", out.Attempts).Warn("capture failed")
	}

	a.journalCapture(ev, req.Threshold)
	a.emitCapture(ev)

	if err != nil {
		return nil, err
	}
	return out.Best, nil
}

func (a *App) journalCapture(ev CaptureEvent, threshold float64) {
	if a.config.Store == nil {
		return
	}
	rec := &store.Capture{
		ID:        ev.ID,
		SessionID: ev.SessionID,
		Mode:      ev.Mode.String(),
		Threshold: threshold,
		Attempts:  ev.Attempts,
		Segmented: ev.Segmented,
		Skipped:   ev.Skipped,
		BestScore: ev.Score,
		Succeeded: ev.Succeeded,
		Duration:  ev.Duration,
	}
	if err := a.config.Store.Captures().Create(rec); err != nil {
		a.log.WithError(err).WithField("id", ev.ID).Warn("failed to journal capture")
	}
}

// LastCapture returns the most recent successful capture, or nil.
func (a *App) LastCapture() *burst.Candidate {
	return a.lastResult.Load()
}

// Compose renders a card from the last capture.
func (a *App) Compose(templateID int, label string) (*image.NRGBA, error) {
	tpl, err := card.LookupTemplate(templateID)
	if err != nil {
		return nil, err
	}
	cand := a.LastCapture()
	if cand == nil {
		return nil, ErrNoCapture
	}

	img, err := card.Compose(cand.Cutout, tpl, label)
	if err != nil {
		return nil, err
	}
	a.recordCard(img, cand.ID, tpl, label)
	return img, nil
}

// ComposeBackground renders a card without a subject layer.
func (a *App) ComposeBackground(templateID int, label string) (*image.NRGBA, error) {
	tpl, err := card.LookupTemplate(templateID)
	if err != nil {
		return nil, err
	}
	img, err := card.ComposeBackground(tpl, label)
	if err != nil {
		return nil, err
	}
	a.recordCard(img, "", tpl, label)
	return img, nil
}

// LatestCard returns the last rendered card, or nil. A new capture clears it.
func (a *App) LatestCard() *image.NRGBA {
	return a.lastCard.Load()
}

func (a *App) recordCard(img *image.NRGBA, captureID string, tpl card.Template, label string) {
	a.lastCard.Store(img)

	ev := CardEvent{
		ID:         uuid.New().String(),
		CaptureID:  captureID,
		TemplateID: tpl.ID,
		Label:      label,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
	}

	if a.config.Store != nil {
		rec := &store.Card{
			ID:         ev.ID,
			CaptureID:  ev.CaptureID,
			TemplateID: ev.TemplateID,
			Label:      ev.Label,
			Width:      ev.Width,
			Height:     ev.Height,
		}
		if err := a.config.Store.Cards().Create(rec); err != nil {
			a.log.WithError(err).WithField("id", ev.ID).Warn("failed to journal card")
		}
	}

	a.log.WithFields(logrus.Fields{
		"template": tpl.Name,
		"capture":  captureID,
	}).Info("card rendered")

	a.hooksMu.Lock()
	hooks := append(([]func(CardEvent))(nil), a.onCard...)
	a.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

func (a *App) emitCapture(ev CaptureEvent) {
	a.hooksMu.Lock()
	hooks := append(([]func(CaptureEvent))(nil), a.onCapture...)
	a.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// OnFrame hands a frame to the pipeline, taking ownership of mat. It never
// blocks on processing: if the previous frame has not been picked up yet it
// is dropped in favor of this one.
func (a *App) OnFrame(mat gocv.Mat, ts time.Time) {
	if !a.enabled.Load() || mat.Empty() {
		mat.Close()
		return
	}

	f := capture.NewFrame(mat, a.seq.Add(1), ts)
	f.Retain()
	if a.mailbox.Put(f) {
		a.current.Store(f)
	}
	f.Release()
}

// Start launches the frame-processing loop and, when a camera is
// configured, the camera pump.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return nil
	}

	if a.config.Camera != nil {
		if err := a.config.Camera.Open(); err != nil {
			return fmt.Errorf("open camera: %w", err)
		}
	}

	a.stopCh = make(chan struct{})
	a.started = true

	a.wg.Add(1)
	go a.runProcessor()

	if a.config.Camera != nil {
		a.wg.Add(1)
		go a.runPump()
	} else {
		close(a.pumpDone)
	}

	a.log.WithFields(logrus.Fields{
		"session": a.sessionID,
		"mode":    a.Mode(),
	}).Info("pipeline started")
	return nil
}

// PumpDone is closed when the camera pump exits, for example at the end of
// a video file.
func (a *App) PumpDone() <-chan struct{} {
	return a.pumpDone
}

// Stop halts the pipeline and releases resources. The app cannot be
// restarted.
func (a *App) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	started := a.started
	if started {
		close(a.stopCh)
	} else {
		close(a.pumpDone)
	}
	a.mu.Unlock()

	a.mailbox.Close()
	a.wg.Wait()

	if started && a.config.Camera != nil {
		if err := a.config.Camera.Close(); err != nil {
			a.log.WithError(err).Warn("error closing camera")
		}
	}

	a.current.Store(nil)
	a.previewed.Store(nil)

	if err := a.previewEngine.Close(); err != nil {
		a.log.WithError(err).Warn("error closing preview backend")
	}
	if a.config.CaptureBackend != a.config.PreviewBackend {
		if err := a.captureEngine.Close(); err != nil {
			a.log.WithError(err).Warn("error closing capture backend")
		}
	}

	a.log.Info("pipeline stopped")
}
