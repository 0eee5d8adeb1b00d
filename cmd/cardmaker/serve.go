package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
	"github.com/matsumoto-fabrica/cardmaker/internal/emitter"
	"github.com/matsumoto-fabrica/cardmaker/internal/server"
	"github.com/matsumoto-fabrica/cardmaker/internal/tray"
)

type serveOptions struct {
	Addr    string
	Input   string
	Device  int
	Backend string
	Tray    bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live preview, capture and card HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyServeFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Addr, "addr", "a", "", "HTTP listen address (overrides server.addr)")
	serveCmd.Flags().StringVarP(&serveOpts.Input, "input", "i", "", "Video file or stream URL instead of a camera device")
	serveCmd.Flags().IntVarP(&serveOpts.Device, "device", "d", 0, "Camera device index")
	serveCmd.Flags().StringVarP(&serveOpts.Backend, "backend", "b", "", "Segmentation backend: dnn, subprocess, key or none")
	serveCmd.Flags().BoolVar(&serveOpts.Tray, "tray", false, "Show the system tray menu")
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags lets explicitly set flags override the config file.
func applyServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = serveOpts.Addr
	}
	if flags.Changed("input") {
		cfg.Camera.URL = serveOpts.Input
	}
	if flags.Changed("device") {
		cfg.Camera.Device = serveOpts.Device
	}
	if flags.Changed("backend") {
		cfg.Segmentation.Backend = serveOpts.Backend
	}
}

func runServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	cam := capture.NewCamera(capture.Options{
		DeviceID: cfg.Camera.Device,
		URL:      cfg.Camera.URL,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FPS,
	})

	a, err := newApp(cam, st)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		a.Stop()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer a.Stop()

	if cfg.MQTT.Broker != "" {
		em := emitter.New(emitter.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			StatsEvery:  cfg.MQTT.StatsEvery,
			Logger:      logger,
		}, nil)
		defer em.Close()
		if err := em.Connect(); err != nil {
			logger.WithError(err).Warn("mqtt unavailable, events will not be published")
		}
		em.Attach(a)
	}

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		logger.WithField("dir", staticDir).Info("serving static files")
	}

	srv := server.New(server.Config{
		StaticDir: staticDir,
		Store:     st,
		Pipeline:  a,
		Logger:    logger,
	})
	defer srv.Close()

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("starting server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		cancel()
	}()

	go func() {
		select {
		case <-a.PumpDone():
			logger.Info("frame source finished")
		case <-ctx.Done():
		}
	}()

	if serveOpts.Tray {
		runTray(ctx, cancel, a)
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}

// runTray blocks in the tray event loop until quit or ctx is cancelled.
func runTray(ctx context.Context, cancel context.CancelFunc, a *app.App) {
	tr := tray.New()
	tr.OnToggle(a.SetEnabled)
	tr.OnCapture(func() {
		if _, err := a.CaptureBest(ctx, 0, 0); err != nil {
			logger.WithError(err).Warn("tray capture failed")
		}
	})
	tr.OnOpen(func() {
		if err := openBrowser(localURL(cfg.Server.Addr)); err != nil {
			logger.WithError(err).Warn("failed to open browser")
		}
	})
	tr.OnQuit(cancel)

	a.OnCapture(func(ev app.CaptureEvent) {
		if ev.Succeeded {
			tr.SetLastCapture(ev.Score, time.Now())
		}
	})

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				tr.Quit()
				return
			case <-ticker.C:
				tr.SetFPS(a.FPS())
			}
		}
	}()

	logger.WithFields(logrus.Fields{"addr": cfg.Server.Addr}).Debug("tray running")
	tr.Run()
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.cardmaker/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".cardmaker", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
