// Package captioner wires the capture session, camera and dashboard into a
// runnable application.
package captioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-caption/internal/config"
	"github.com/teslashibe/go-caption/internal/log"
	"github.com/teslashibe/go-caption/pkg/caption"
	"github.com/teslashibe/go-caption/pkg/capture"
	"github.com/teslashibe/go-caption/pkg/media"
	"github.com/teslashibe/go-caption/pkg/media/gocvcam"
	"github.com/teslashibe/go-caption/pkg/metrics"
	"github.com/teslashibe/go-caption/pkg/web"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight exchanges.
const shutdownTimeout = 10 * time.Second

// App is the capture client.
type App struct {
	config config.Captioner
	logger *slog.Logger

	// Provider and Encoder override the configured camera when set.
	Provider media.Provider
	Encoder  capture.Encoder

	registry *prometheus.Registry
	client   *caption.Client
	web      *web.Server
	session  *capture.Session
}

// New validates cfg and creates an uninitialised App.
func New(cfg config.Captioner) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &App{
		config: cfg,
		logger: log.Component("captioner"),
	}, nil
}

// Init builds every component. Call it after New and before Run.
func (a *App) Init() error {
	client, err := caption.NewClient(a.config.Endpoint, caption.WithTimeout(a.config.RequestTimeout))
	if err != nil {
		return fmt.Errorf("caption client: %w", err)
	}
	a.client = client

	if a.Provider == nil {
		a.Provider, a.Encoder = a.camera()
	}

	a.registry = metrics.NewRegistry()
	a.web = web.NewServer(a.config.Listen, a.registry)

	session, err := capture.NewSession(capture.Config{
		Provider: a.Provider,
		Constraints: media.Constraints{
			IdealWidth:  a.config.IdealWidth,
			IdealHeight: a.config.IdealHeight,
			Facing:      media.Facing(a.config.Facing),
		},
		Client:      client,
		Encoder:     a.Encoder,
		Surface:     capture.MultiSurface{a.web, capture.LogSurface{Logger: log.Component("surface")}},
		PeriodMs:    strconv.Itoa(a.config.PeriodMs),
		Instruction: a.config.Prompt,
	})
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	a.session = session
	a.web.SetController(session)

	a.logger.Info("captioner ready",
		"endpoint", client.Endpoint(),
		"period_ms", a.config.PeriodMs,
		"pattern", a.config.Pattern,
		"dashboard", a.config.Listen)
	return nil
}

func (a *App) camera() (media.Provider, capture.Encoder) {
	if a.config.Pattern {
		a.logger.Info("using synthetic test pattern")
		return media.NewPatternProvider(), media.JPEGEncoder{}
	}
	a.logger.Info("using camera device", "device", a.config.Camera)
	return gocvcam.NewProvider(a.config.Camera), gocvcam.Encoder{}
}

// Run serves the dashboard and, with autostart, begins capturing. It blocks
// until ctx is cancelled or the dashboard fails.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil {
		return errors.New("captioner: Init not called")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.web.Start(); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	})

	if a.config.AutoStart {
		g.Go(func() error {
			if err := a.session.Start(ctx); err != nil {
				a.logger.Warn("autostart failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.session.Stop()
		return a.web.Shutdown()
	})

	return g.Wait()
}

// Session returns the capture session.
func (a *App) Session() *capture.Session {
	return a.session
}

// Shutdown stops capture and drains in-flight requests.
func (a *App) Shutdown() {
	if a.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.session.Close(ctx); err != nil {
		a.logger.Warn("in-flight captions abandoned", "error", err)
	}
	a.logger.Info("captioner stopped")
}
