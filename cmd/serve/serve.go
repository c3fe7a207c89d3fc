// Package serve implements the serve command, which runs the frame pipeline
// and the HTTP server until interrupted.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/feedercam/internal/buildinfo"
	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/framestore"
	"github.com/tphakala/feedercam/internal/httpcontroller"
	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/mqtt"
	"github.com/tphakala/feedercam/internal/observability"
	"github.com/tphakala/feedercam/internal/sessions"
	"github.com/tphakala/feedercam/internal/stream"
	"github.com/tphakala/feedercam/internal/telemetry"
)

// Command creates the serve command.
func Command(settings *conf.Settings, version, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Stream the camera over HTTP",
		Long:  "Start the frame pipeline and serve MJPEG streams, single captures and the status API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			build := buildinfo.NewContext(version, buildDate, settings.Main.SystemID)
			return Run(ctx, settings, build)
		},
	}
}

// Run starts every component configured in settings and blocks until ctx
// ends or a component fails.
func Run(ctx context.Context, settings *conf.Settings, build buildinfo.BuildInfo) error {
	log := logger.Global().Module("main")
	logStartup(log, settings, build)

	flushTelemetry, err := telemetry.InitSentry(&settings.Sentry, build)
	if err != nil {
		log.Warn("Sentry telemetry unavailable", logger.Error(err))
	}
	defer flushTelemetry()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	metrics.InstallErrorHook()

	cam, err := camera.New(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn("camera close failed", logger.Error(err))
		}
	}()

	fatal := framestore.NewRestartHandler(log, settings.Stream.RestartDelay,
		func() { _ = logger.Global().Sync() },
		flushTelemetry)

	pipeline := stream.New(stream.Config{
		MaxClients:    settings.Stream.MaxClients,
		FrameInterval: settings.FrameInterval(),
		PollInterval:  settings.PollInterval(),
		EventBuffer:   settings.Stream.EventBuffer,
	}, cam,
		stream.WithRecorder(metrics.Stream),
		stream.WithStoreOptions(
			framestore.WithAllocator(framestore.NewMemoryAllocator(settings.Stream.MaxFrameBytes, settings.Stream.MinFreeMemory)),
			framestore.WithFatalHandler(fatal),
		))

	serverOpts := []httpcontroller.Option{
		httpcontroller.WithMetrics(metrics),
		httpcontroller.WithBuildInfo(build),
	}

	if settings.Sessions.Enabled {
		store, err := sessions.Open(&settings.Sessions)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("session store close failed", logger.Error(err))
			}
		}()
		pipeline.Events().RegisterConsumer(store)
		serverOpts = append(serverOpts, httpcontroller.WithSessions(store))
	}

	if settings.MQTT.Enabled {
		publisher := mqtt.NewPublisher(mqtt.ConfigFromSettings(settings), settings.Main.Name, pipeline, metrics.MQTT)
		if err := publisher.Start(ctx); err != nil {
			// the client keeps retrying and announces itself once connected
			log.Warn("MQTT broker not reachable yet", logger.Error(err))
		}
		defer publisher.Stop(context.Background())
		pipeline.Events().RegisterConsumer(publisher)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	if settings.WebServer.Enabled {
		server := httpcontroller.New(settings, pipeline, cam, serverOpts...)
		g.Go(func() error {
			return server.Serve(gctx)
		})
	} else {
		log.Info("web server disabled, running headless")
	}

	if err := g.Wait(); err != nil {
		log.Error("feedercam stopped with error", logger.Error(err))
		return err
	}
	log.Info("feedercam stopped")
	return nil
}

// logStartup logs the effective configuration and the free memory the frame
// buffers will be allocated from.
func logStartup(log logger.Logger, settings *conf.Settings, build buildinfo.BuildInfo) {
	fields := []logger.Field{
		logger.String("version", build.Version()),
		logger.String("node", settings.Main.Name),
		logger.String("camera", settings.Camera.Source),
		logger.Int("fps", settings.Camera.FPS),
		logger.Int("max_clients", settings.Stream.MaxClients),
		logger.Bool("web_server", settings.WebServer.Enabled),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields,
			logger.Uint64("free_memory", vm.Available),
			logger.Uint64("total_memory", vm.Total))
	}
	log.Info("starting feedercam", fields...)
}
