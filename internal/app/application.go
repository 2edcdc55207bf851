package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"simpilot/internal/controller"
	"simpilot/internal/logging"
	"simpilot/internal/metrics"
	"simpilot/internal/protocol"
	"simpilot/internal/session"
	"simpilot/internal/transport"
)

const (
	statusInterval  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Application represents the main application
type Application struct {
	config    Config
	logger    *logrus.Logger
	logCloser io.Closer

	channel  *transport.UDPChannel
	codec    *protocol.Codec
	session  *session.Session
	metrics  *metrics.Metrics
	rotator  *logging.Rotator
	airData  *controller.AirData
	attitude *controller.AttitudeHold
	climb    *controller.Climb

	// console input; nil disables the console
	input  io.Reader
	output io.Writer
}

// NewApplication creates a new application instance
func NewApplication(config Config) (*Application, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.NewLogger(logging.Options{
		Level:      config.LogLevel,
		Verbose:    config.Verbose,
		File:       config.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		Compress:   true,
	})
	if err != nil {
		return nil, err
	}

	app := &Application{
		config:    config,
		logger:    logger,
		logCloser: closer,
		output:    os.Stdout,
	}
	if config.Console {
		app.input = os.Stdin
	}
	return app, nil
}

// Session returns the dispatch session once Run has initialized it.
func (app *Application) Session() *session.Session {
	return app.session
}

// Run initializes every component and runs until ctx is done or a
// component fails.
func (app *Application) Run(ctx context.Context) error {
	app.logger.WithFields(logrus.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}).Info("Starting simulator autopilot")

	if err := app.initializeComponents(); err != nil {
		app.shutdown()
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer app.shutdown()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.session.Run(ctx)
	})

	if app.rotator != nil {
		g.Go(func() error {
			app.rotator.Start(ctx, app.config.RetentionDays)
			return nil
		})
	}

	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			return app.serveMetrics(ctx)
		})
	}

	g.Go(func() error {
		app.reportStatus(ctx)
		return nil
	})

	if app.input != nil {
		// Reads from the console block until input arrives, so the reader
		// lives outside the group and is abandoned at shutdown.
		console := NewConsole(app.session, app.output, app.logger)
		go console.Run(ctx, app.input)
	}

	app.logger.Info("All components started successfully")
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		app.logger.WithError(err).Error("Application error")
		return err
	}
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	var err error

	app.metrics = metrics.New()

	app.channel, err = transport.ListenUDP(app.config.Listen, app.config.Command, app.config.Poll, app.logger)
	if err != nil {
		return fmt.Errorf("failed to open simulator channel: %w", err)
	}

	app.codec = protocol.NewCodec(app.logger)

	app.session = session.New(app.channel, app.codec, app.logger, session.Options{
		WarningLimit: app.config.WarningLimit,
		Metrics:      app.metrics,
	})

	var recording io.Writer = io.Discard
	if app.config.Record {
		app.rotator, err = logging.NewRotator(app.config.RecordingDir, app.config.RecordingUTC, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize recording: %w", err)
		}
		recording = app.rotator
	}

	app.airData = controller.NewAirData(app.config.Estimator, app.codec, app.logger)
	app.attitude = controller.NewAttitudeHold(app.config.Attitude, app.logger)
	app.climb = controller.NewClimb(app.config.Climb, app.logger)
	recorder := controller.NewRecorder(recording, app.logger)

	// registration order is merge priority
	for _, c := range []controller.FlightController{app.airData, app.attitude, app.climb, recorder} {
		if err := app.session.Register(c); err != nil {
			return err
		}
	}
	for _, name := range app.config.Controllers {
		if err := app.session.SetEnabled(name, true); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics serves /metrics until ctx is done.
func (app *Application) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())

	ln, err := net.Listen("tcp", app.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// reportStatus logs the dispatch state periodically
func (app *Application) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := app.session.Snapshot()
			fields := logrus.Fields{
				"status":   snap.Status,
				"warnings": len(app.session.Warnings()),
				"stage":    app.climb.Stage(),
			}
			if snap.Frame != nil {
				fields["time"] = snap.Frame.Time
				fields["altitude"] = snap.Frame.Altitude()
				fields["cas"] = snap.Frame.CAS
			}
			if est := app.airData.Estimate(); est.Valid() {
				fields["sea_level_temperature"] = est.SeaLevel.Temperature
				fields["sea_level_pressure"] = est.SeaLevel.Pressure
				fields["estimate_quality"] = est.Quality
			}
			app.logger.WithFields(fields).Info("Dispatch status")
		}
	}
}

// shutdown releases everything initializeComponents acquired
func (app *Application) shutdown() {
	app.logger.Info("Shutting down application")

	if app.channel != nil {
		if err := app.channel.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close simulator channel")
		}
	}
	if app.rotator != nil {
		if err := app.rotator.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close recording")
		}
	}

	app.logger.Info("Shutdown completed")
	_ = app.logCloser.Close()
}
