package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"moviepipeline/internal/app"
	"moviepipeline/internal/cache"
	"moviepipeline/internal/control"
	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/ffwriter"
	"moviepipeline/internal/framebuffer"
	"moviepipeline/internal/input"
	"moviepipeline/internal/metrics"
	"moviepipeline/internal/player"
	"moviepipeline/internal/recording"
	"moviepipeline/internal/session"
	sessionmongo "moviepipeline/internal/session/repository/mongo"
	"moviepipeline/internal/syntheticasset"
	"moviepipeline/internal/syntheticplayback"
	"moviepipeline/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:  "movie-pipeline",
		LiveVideo:    cfg.LiveVideo,
		CacheSeconds: cfg.CacheBufferedDurationSeconds,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "movie-pipeline"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("outputDir", cfg.OutputDir),
		slog.Bool("liveVideo", cfg.LiveVideo),
		slog.String("videoSource", cfg.VideoSource),
		slog.Float64("cacheBufferedDurationSeconds", cfg.CacheBufferedDurationSeconds),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Error("output dir create failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessions := session.NewManager(connectSessionRepository(rootCtx, cfg, logger))

	videoSize := domain.Size{Width: cfg.VideoWidth, Height: cfg.VideoHeight}
	pool := domain.NewPool(3)
	assetPool := domain.NewPixelBufferPool(3, 8)
	generator := framebuffer.NewGenerator(pool)

	reader := syntheticasset.New(syntheticasset.Config{
		Size:       videoSize,
		FPS:        30,
		Duration:   cfg.AssetDuration,
		SampleRate: audioSampleRate(cfg),
		Channels:   cfg.AudioChannels,
	}, assetPool)

	movieInput := input.New(reader, generator, ports.NoopThreadScheduler{}, input.Config{
		Live:               cfg.LiveVideo,
		WaitUntilReady:     cfg.WaitUntilReady,
		PlayAtActualSpeed:  cfg.PlayAtActualSpeed,
		PlayRate:           cfg.PlayRate,
		MaxFPS:             cfg.MaxFPS,
		Loop:               cfg.Loop,
		UseRealtimeThreads: cfg.UseRealtimeThreads,
		TranscodingOnly:    cfg.TranscodingOnly,
	})

	movieCache := cache.New()

	// The playback path exists in every configuration so the control
	// plane's transport/seek endpoints always have a player behind them;
	// only the configured source actually feeds the pre-roll cache.
	playbackEngine := syntheticplayback.New()
	moviePlayer := player.New(playbackEngine, generator, syntheticplayback.NewDisplayRefresh(60))
	playbackItem := syntheticplayback.NewItem(videoSize, 30, cfg.AssetDuration, assetPool)
	moviePlayer.ReplaceCurrentItem(playbackItem)

	playerDrivesCache := cfg.VideoSource == "player"
	if playerDrivesCache {
		moviePlayer.Graph.AddTarget(movieCache)
	} else {
		movieInput.Graph.AddTarget(movieCache)
		if cfg.TranscodingOnly {
			movieInput.SetVideoSampleSink(movieCache)
		}
		if cfg.AudioEnabled {
			movieInput.SetAudioEncodingTarget(movieCache)
		}
	}

	newWriter := func(outputPath string) ports.ContainerWriter {
		return ffwriter.New(ffwriter.Config{
			FFMPEGPath:            cfg.FFMPEGPath,
			OutputPath:            outputPath,
			FPS:                   30,
			OptimizeForNetworkUse: cfg.OptimizeForNetworkUse,
		})
	}

	sourceGraph := movieInput.Graph
	if playerDrivesCache {
		sourceGraph = moviePlayer.Graph
	}
	recorder, err := recording.New(sourceGraph, movieCache, generator, newWriter, sessions, recording.Config{
		CacheDuration:                 cfg.CacheBufferedDurationSeconds,
		VideoSize:                     videoSize,
		AudioEnabled:                  cfg.AudioEnabled,
		AudioSampleRate:               cfg.AudioSampleRate,
		AudioChannels:                 cfg.AudioChannels,
		OutputDir:                     cfg.OutputDir,
		LiveVideo:                     cfg.LiveVideo,
		WaitUntilReady:                cfg.WaitUntilReady,
		OptimizeForNetworkUse:         cfg.OptimizeForNetworkUse,
		DisablePixelBufferAttachments: cfg.DisablePixelBufferAttachments,
	})
	if err != nil {
		logger.Error("recording manager init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	inputCtx, cancelInput := context.WithCancel(rootCtx)
	defer cancelInput()
	go moviePlayer.RunDisplayLoop(inputCtx)
	if playerDrivesCache {
		moviePlayer.Start(domain.Zero(), domain.NewTimestamp(cfg.AssetDuration, 600))
	} else if err := movieInput.Start(inputCtx, domain.Zero(), nil, false); err != nil {
		logger.Error("movie input start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	controlServer := control.NewServer(recorder, moviePlayer,
		control.WithLogger(logger),
		control.WithSessions(sessions),
	)
	movieCache.OnDrop(func(reason domain.DropReason) {
		controlServer.BroadcastDrop("moviecache", reason)
	})

	go pollPipelineMetrics(rootCtx, pool, assetPool, movieCache)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           controlServer,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	controlServer.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if recorder.State() == domain.WriterStateWriting {
		if err := recorder.StopRecording(shutdownCtx); err != nil {
			logger.Warn("recording stop on shutdown failed", slog.String("error", err.Error()))
		}
	}
	moviePlayer.Cleanup()
	movieInput.Cancel()
	cancelInput()

	logger.Info("shutdown complete")
}

func audioSampleRate(cfg app.Config) int {
	if !cfg.AudioEnabled {
		return 0
	}
	return cfg.AudioSampleRate
}

func connectSessionRepository(ctx context.Context, cfg app.Config, logger *slog.Logger) session.Repository {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mongoOpts := otelmongo.NewMonitor()
	client, err := sessionmongo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(mongoOpts))
	if err != nil {
		logger.Warn("mongo connect failed, running without session persistence", slog.String("error", err.Error()))
		return nil
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, running without session persistence", slog.String("error", err.Error()))
		return nil
	}
	repo := sessionmongo.NewRepository(client, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo index creation failed", slog.String("error", err.Error()))
	}
	return repo
}

// pollPipelineMetrics periodically samples buffer-occupancy state into
// the Prometheus gauges.
func pollPipelineMetrics(ctx context.Context, pool *domain.Pool, assetPool *domain.PixelBufferPool, movieCache *cache.MovieCache) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle, total := pool.Stats()
			metrics.PixelBufferPoolIdle.WithLabelValues("framebuffer").Set(float64(idle))
			metrics.PixelBufferPoolTotal.WithLabelValues("framebuffer").Set(float64(total))

			assetIdle, assetTotal := assetPool.Stats()
			metrics.PixelBufferPoolIdle.WithLabelValues("asset").Set(float64(assetIdle))
			metrics.PixelBufferPoolTotal.WithLabelValues("asset").Set(float64(assetTotal))

			metrics.CacheBufferedItems.Set(float64(movieCache.Len()))
			metrics.CacheSpanSeconds.Set(movieCache.Span())
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
