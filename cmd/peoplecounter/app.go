package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"peoplecounter/internal/auth"
	"peoplecounter/internal/config"
	"peoplecounter/internal/database"
	"peoplecounter/internal/detection"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/metrics"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/services"
	"peoplecounter/internal/source"
	"peoplecounter/internal/stream"
	"peoplecounter/internal/telemetry"
	"peoplecounter/internal/ws"
)

const connectTimeout = 10 * time.Second

func run(c *cli.Context) error {
	v := config.New()
	if err := config.ReadFile(v, c.String(flagConfig)); err != nil {
		return err
	}
	applyFlags(c, v)

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	return app.run(ctx)
}

// application owns every long-lived component of one run
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	runID   string
	metrics *metrics.Metrics

	db       *database.Database
	provider detection.Provider
	src      source.Source
	sink     stream.Multi
	mjpeg    *stream.MJPEGBroadcaster
	hub      *ws.Hub
	pubs     telemetry.Fanout
	authn    *auth.Authenticator
	pipeline *pipeline.Pipeline
}

func newApplication(ctx context.Context, cfg *config.Config, log *zap.Logger) (app *application, err error) {
	app = &application{
		cfg:     cfg,
		logger:  log,
		runID:   uuid.NewString(),
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, app.close())
			app = nil
		}
	}()

	if err = app.openJournal(ctx); err != nil {
		return app, err
	}

	shape, err := app.loadModel(ctx)
	if err != nil {
		return app, err
	}

	app.src, err = source.Open(ctx, source.Config{
		Input:        cfg.Input.Source,
		CameraDevice: cfg.Input.CameraDevice,
		FPS:          cfg.Input.FPS,
		Width:        cfg.Input.Width,
		Height:       cfg.Input.Height,
		FFmpegPath:   cfg.Input.FFmpegPath,
		Prefetch:     cfg.Input.Prefetch,
	}, log)
	if err != nil {
		return app, fmt.Errorf("failed to open input %q: %w", cfg.Input.Source, err)
	}

	if err = app.buildSinks(); err != nil {
		return app, err
	}
	app.buildPublishers(ctx)

	if cfg.Server.Enabled {
		app.authn, err = auth.NewAuthenticator(auth.Config{
			Enabled:   cfg.Auth.Enabled,
			Username:  cfg.Auth.Username,
			Password:  cfg.Auth.Password,
			JWTSecret: cfg.Auth.JWTSecret,
			JWTExpiry: cfg.Auth.JWTExpiry,
		})
		if err != nil {
			return app, fmt.Errorf("failed to configure auth: %w", err)
		}
	}

	mode, err := occupancy.ParseCountMode(cfg.Occupancy.CountMode)
	if err != nil {
		return app, err
	}

	var publisher occupancy.Publisher
	if len(app.pubs) > 0 {
		publisher = app.pubs
	}
	app.pipeline, err = pipeline.New(pipeline.Options{
		Source:           app.src,
		Provider:         app.provider,
		Tracker:          occupancy.NewTracker(cfg.Occupancy.ProbThreshold, cfg.Occupancy.ConfirmFrames, mode),
		Publisher:        publisher,
		Sink:             app.sink,
		Metrics:          app.metrics,
		Logger:           log,
		InputShape:       shape,
		InferenceTimeout: cfg.Detector.InferenceTimeout,
		JPEGQuality:      cfg.Input.JPEGQuality,
		StatusOverlay:    true,
	})
	if err != nil {
		return app, err
	}
	app.pipeline.Bus().SubscribeFiltered(pipeline.TransitionsOnly, pipeline.NewJournal(app.db, app.runID, log))

	return app, nil
}

func (a *application) openJournal(ctx context.Context) error {
	db, err := database.New(a.cfg.Store.DSN)
	if err != nil {
		return err
	}
	a.db = db
	return db.Migrate(ctx)
}

// loadModel asks the backend to load the model. Failure is fatal.
func (a *application) loadModel(ctx context.Context) (detection.InputShape, error) {
	cfg := a.cfg.Detector
	provider, err := detection.New(detection.Config{
		Backend:      cfg.Backend,
		Endpoint:     cfg.Endpoint,
		Model:        cfg.Model,
		Device:       cfg.Device,
		CPUExtension: cfg.CPUExtension,
		Timeout:      cfg.InferenceTimeout,
	}, a.logger)
	if err != nil {
		return detection.InputShape{}, err
	}
	a.provider = provider

	loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	defer cancel()

	start := time.Now()
	shape, err := provider.Load(loadCtx)
	if err != nil {
		return detection.InputShape{}, fmt.Errorf("failed to load model %s: %w", cfg.Model, err)
	}
	loadTime := time.Since(start)
	a.metrics.SetModelLoaded(loadTime)
	a.logger.Info("model loaded",
		zap.String("model", cfg.Model),
		zap.String("device", cfg.Device),
		zap.Int("input_width", shape.Width),
		zap.Int("input_height", shape.Height),
		zap.Duration("load_time", loadTime))

	err = a.db.SaveRun(ctx, &database.RunRecord{
		ID:         a.runID,
		Input:      a.cfg.Input.Source,
		Model:      cfg.Model,
		Device:     cfg.Device,
		StartedAt:  start,
		LoadTimeMs: float64(loadTime.Microseconds()) / 1000,
	})
	return shape, err
}

// buildSinks selects the video outputs. A still image is written to the
// output image file; streams go to stdout as raw pixels.
func (a *application) buildSinks() error {
	out := a.cfg.Output
	if a.cfg.Input.IsImage() {
		a.sink = append(a.sink, stream.NewImageFile(out.Image, 95))
	} else if out.Stdout {
		raw, err := stream.NewRawWriter(os.Stdout, out.PixelFormat)
		if err != nil {
			return err
		}
		a.sink = append(a.sink, raw)
	}
	if a.cfg.Server.Enabled && out.MJPEG {
		a.mjpeg = stream.NewMJPEGBroadcaster(80, a.logger)
		a.sink = append(a.sink, a.mjpeg)
	}
	return nil
}

// buildPublishers connects the telemetry transports. An unreachable broker
// is logged and skipped; the run continues without it.
func (a *application) buildPublishers(ctx context.Context) {
	tcfg := a.cfg.Telemetry

	if tcfg.MQTT.Enabled {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		pub, err := telemetry.NewMQTTPublisher(cctx, telemetry.MQTTConfig{
			Broker:      tcfg.MQTT.Broker,
			ClientID:    tcfg.MQTT.ClientID,
			KeepAlive:   tcfg.MQTT.KeepAlive,
			TopicPrefix: tcfg.MQTT.TopicPrefix,
			QoS:         byte(tcfg.MQTT.QoS),
			PublishWait: tcfg.MQTT.PublishWait,
		}, a.logger)
		cancel()
		if err != nil {
			a.logger.Warn("mqtt telemetry disabled", zap.Error(err))
		} else {
			a.pubs = append(a.pubs, pub)
		}
	}

	if tcfg.Redis.Enabled {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		pub, err := telemetry.NewRedisPublisher(cctx, telemetry.RedisConfig{
			Addr:          tcfg.Redis.Addr,
			Password:      tcfg.Redis.Password,
			DB:            tcfg.Redis.DB,
			ChannelPrefix: tcfg.Redis.ChannelPrefix,
		}, a.logger)
		cancel()
		if err != nil {
			a.logger.Warn("redis telemetry disabled", zap.Error(err))
		} else {
			a.pubs = append(a.pubs, pub)
		}
	}

	if a.cfg.Server.Enabled {
		a.hub = ws.NewHub(a.logger)
		a.pubs = append(a.pubs, a.hub)
	}
}

func (a *application) services() services.Services {
	var wsClients, videoClients services.ClientCounter
	if a.hub != nil {
		wsClients = a.hub
	}
	if a.mjpeg != nil {
		videoClients = a.mjpeg
	}

	return services.Services{
		Health: services.NewHealthService(map[string]services.ReadinessCheck{
			"model": func(ctx context.Context) error {
				if a.metrics.ModelLoaded.Load() != 1 {
					return errors.New("model not loaded")
				}
				if !a.provider.IsHealthy(ctx) {
					return errors.New("inference backend unhealthy")
				}
				return nil
			},
		}),
		Auth:      services.NewAuthService(a.authn),
		Occupancy: services.NewOccupancyService(a.pipeline, a.db, a.runID),
		System: services.NewSystemService(services.RunInfo{
			RunID:     a.runID,
			Input:     a.cfg.Input.Source,
			Model:     a.cfg.Detector.Model,
			Device:    a.cfg.Detector.Device,
			Backend:   a.cfg.Detector.Backend,
			CountMode: a.cfg.Occupancy.CountMode,
		}, a.metrics, wsClients, videoClients),
	}
}

func (a *application) extraHandlers() []extraHandler {
	handlers := []extraHandler{
		{method: "Metrics", verb: "GET", pattern: "/metrics", handler: a.metrics.Handler()},
	}
	if a.hub != nil {
		handlers = append(handlers, extraHandler{
			method: "OccupancyFeed", verb: "GET", pattern: "/ws/occupancy",
			handler: ws.NewHandler(a.hub), protected: true,
		})
	}
	if a.mjpeg != nil {
		handlers = append(handlers,
			extraHandler{
				method: "VideoStream", verb: "GET", pattern: "/video/stream",
				handler: a.mjpeg, protected: true,
			},
			extraHandler{
				method: "VideoSnapshot", verb: "GET", pattern: "/video/snapshot",
				handler: stream.NewSnapshotHandler(a.mjpeg), protected: true,
			},
		)
	}
	return handlers
}

// run processes the input until it is exhausted or ctx is cancelled, then
// stops the HTTP server and releases every component.
func (a *application) run(ctx context.Context) (err error) {
	a.logger.Info("run started",
		zap.String("run_id", a.runID),
		zap.String("input", a.cfg.Input.Source))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	if a.cfg.Server.Enabled {
		handleHTTPServer(serverCtx, a.cfg.Server.Addr, a.services(), a.extraHandlers(),
			a.authn, &wg, errc, a.logger, a.cfg.Server.Debug)
	}

	done := make(chan error, 1)
	go func() {
		done <- a.pipeline.Run(runCtx)
	}()

	select {
	case err = <-done:
	case serveErr := <-errc:
		a.logger.Error("http server failed", zap.Error(serveErr))
		cancelRun()
		<-done
		err = fmt.Errorf("http server: %w", serveErr)
	}

	a.logSummary()

	// streaming clients hold their connections open until the outputs close
	closeErr := a.close()
	stopServer()
	wg.Wait()

	if closeErr != nil {
		a.logger.Warn("failed to release resources", zap.Error(closeErr))
	}
	return err
}

func (a *application) logSummary() {
	snap := a.pipeline.Snapshot()
	fields := []zap.Field{
		zap.Int("episodes", snap.Total),
		zap.Int("people_counted", snap.PeopleCounted),
		zap.Uint64("frames_processed", snap.FramesProcessed),
		zap.Uint64("frames_failed", snap.FramesFailed),
	}
	if snap.AverageSeconds != nil {
		fields = append(fields, zap.Float64("average_seconds", *snap.AverageSeconds))
	}
	a.logger.Info("run finished", fields...)
}

// close releases components in reverse order of creation
func (a *application) close() error {
	var closers []io.Closer
	if a.src != nil {
		closers = append(closers, a.src)
	}
	if len(a.sink) > 0 {
		closers = append(closers, a.sink)
	}
	if len(a.pubs) > 0 {
		closers = append(closers, a.pubs)
	}
	if a.provider != nil {
		closers = append(closers, a.provider)
	}
	if a.db != nil {
		closers = append(closers, a.db)
	}

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	a.src, a.sink, a.pubs, a.provider, a.db = nil, nil, nil, nil, nil
	return err
}
