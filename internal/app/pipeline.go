package app

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
	"github.com/matsumoto-fabrica/cardmaker/internal/mask"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

// maxReadFailures stops the pump after this many consecutive read errors.
const maxReadFailures = 30

// runProcessor is the frame-processing loop. It always works on the newest
// frame in the mailbox; frames that arrive while one is being processed
// replace each other and only the last is kept.
func (a *App) runProcessor() {
	defer a.wg.Done()

	for {
		f, err := a.mailbox.Take()
		if err != nil {
			return
		}
		a.processFrame(f)
	}
}

// processFrame runs segmentation, binarization and compositing for one frame
// and publishes the result. It takes over the caller's reference to f.
func (a *App) processFrame(f *capture.Frame) {
	defer f.Release()

	mode := segment.Mode(a.mode.Load())
	threshold := math.Float64frombits(a.threshold.Load())

	res := a.previewEngine.Segment(f.Mat(), mode)
	cut, err := a.compositor.Render(f.Mat(), res, threshold)
	res.Close()
	if err != nil {
		a.log.WithError(err).WithField("seq", f.Seq()).Debug("preview render failed")
		cut = nil
	}

	fps := a.meter.Tick()
	a.processed.Add(1)

	frameImg, err := mask.ToNRGBA(f.Mat())
	if err != nil {
		if cut != nil {
			cut.Close()
		}
		a.log.WithError(err).WithField("seq", f.Seq()).Warn("unsupported frame format")
		return
	}

	update := Update{
		Seq:       f.Seq(),
		Timestamp: f.Timestamp(),
		Frame:     frameImg,
		FPS:       fps,
		Mode:      mode,
		Threshold: threshold,
	}
	if cut != nil {
		img, err := cut.Image()
		cut.Close()
		if err != nil {
			a.log.WithError(err).WithField("seq", f.Seq()).Debug("cutout conversion failed")
		} else {
			update.Cutout = img
		}
	}

	a.previewed.Store(f)
	a.latest.Store(&update)
	a.publish(update)
}

func (a *App) publish(u Update) {
	a.hooksMu.Lock()
	subs := make([]func(Update), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	a.hooksMu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

// runPump reads frames from the camera at its frame rate and feeds them to
// OnFrame until Stop is called or the source ends.
func (a *App) runPump() {
	defer a.wg.Done()
	defer close(a.pumpDone)

	cam := a.config.Camera
	fps := cam.FPS()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			mat, err := cam.ReadFrame()
			if err != nil {
				if errors.Is(err, capture.ErrEndOfStream) {
					a.log.WithField("frames", a.read.Load()).Info("end of stream")
					return
				}
				failures++
				a.log.WithError(err).WithField("failures", failures).Debug("error reading frame")
				if failures >= maxReadFailures {
					a.log.WithError(err).Error("camera keeps failing, stopping pump")
					return
				}
				continue
			}
			failures = 0
			a.read.Add(1)
			a.OnFrame(*mat, time.Now())

			if n := a.read.Load(); n%uint64(fps*10) == 0 {
				st := a.Stats()
				a.log.WithFields(logrus.Fields{
					"read":    st.FramesRead,
					"dropped": st.Dropped,
					"fps":     st.FPS,
				}).Debug("pipeline stats")
			}
		}
	}
}
