// Package tray provides a system tray control surface for the card maker:
// preview toggle, capture trigger, a readout of the last capture and quit.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle  func(enabled bool)
	onCapture func()
	onOpen    func()
	onQuit    func()
	enabled   bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle  *systray.MenuItem
	menuCapture *systray.MenuItem
	menuStatus  *systray.MenuItem
	menuLast    *systray.MenuItem
}

// New creates a new Tray instance with the preview enabled.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback invoked when the preview is switched on or off.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnCapture sets the callback invoked when a capture is requested. It runs
// on its own goroutine so the menu stays responsive.
func (t *Tray) OnCapture(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCapture = fn
}

// OnOpen sets the callback invoked by "Open in Browser".
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Cardmaker")
	systray.SetTooltip("Cardmaker live preview")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle live preview")
	systray.AddSeparator()

	t.menuCapture = systray.AddMenuItem("Capture", "Capture the best of a short burst")
	t.menuStatus = systray.AddMenuItem(statusTitle(0), "Preview frame rate")
	t.menuStatus.Disable()
	t.menuLast = systray.AddMenuItem(lastCaptureTitle(0, time.Time{}), "Last capture")
	t.menuLast.Disable()
	systray.AddSeparator()
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open in Browser...", "Open the preview page")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Cardmaker")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuCapture.ClickedCh:
				t.handleCapture()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleCapture() {
	t.mu.RLock()
	callback := t.onCapture
	item := t.menuCapture
	t.mu.RUnlock()

	if callback == nil {
		return
	}
	if item != nil {
		item.Disable()
	}
	go func() {
		defer func() {
			if item != nil {
				item.Enable()
			}
		}()
		callback()
	}()
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetFPS updates the frame rate readout.
func (t *Tray) SetFPS(fps int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(fps))
	}
}

// SetLastCapture updates the last capture readout. A zero time means none.
func (t *Tray) SetLastCapture(score float64, at time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastCaptureTitle(score, at))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Preview On"
	}
	return "○ Preview Off"
}

func statusTitle(fps int) string {
	return fmt.Sprintf("Preview: %d fps", fps)
}

func lastCaptureTitle(score float64, at time.Time) string {
	if at.IsZero() {
		return "Last: none"
	}
	return fmt.Sprintf("Last: %s (%.0f%%)", at.Format("15:04:05"), score*100)
}
