package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/cleanup"
	"github.com/codebuildervaibhav/trigger-engine/internal/config"
	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
	"github.com/codebuildervaibhav/trigger-engine/internal/gemini"
	"github.com/codebuildervaibhav/trigger-engine/internal/generation"
	"github.com/codebuildervaibhav/trigger-engine/internal/handlers"
	"github.com/codebuildervaibhav/trigger-engine/internal/jobs"
	"github.com/codebuildervaibhav/trigger-engine/internal/logging"
	"github.com/codebuildervaibhav/trigger-engine/internal/media"
	"github.com/codebuildervaibhav/trigger-engine/internal/metrics"
	"github.com/codebuildervaibhav/trigger-engine/internal/notify"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/queue"
	"github.com/codebuildervaibhav/trigger-engine/internal/recall"
	"github.com/codebuildervaibhav/trigger-engine/internal/storage"
	"github.com/codebuildervaibhav/trigger-engine/internal/transcription"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, logBuffer, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog, logBuffer); err != nil {
		zlog.Fatal("server failed", zap.Error(err))
	}
}

// providerSet holds the key pools and engines built from the config.
type providerSet struct {
	geminiPool    *credentials.Pool[*gemini.Client]
	deepgramPool  *credentials.Pool[string]
	transcription *provider.Engine[transcription.Provider]
	generation    *provider.Engine[generation.Provider]
}

func (p *providerSet) pools() []handlers.PoolStatus {
	var out []handlers.PoolStatus
	if p.geminiPool != nil {
		out = append(out, p.geminiPool)
	}
	if p.deepgramPool != nil {
		out = append(out, p.deepgramPool)
	}
	return out
}

func buildProviders(cfg *config.Config, shared credentials.SharedState, m *metrics.Metrics, zlog *zap.Logger) (*providerSet, error) {
	poolOpts := []credentials.Option{credentials.WithLogger(zlog), credentials.WithMetrics(m)}
	engineOpts := []provider.EngineOption{
		provider.WithCooldowns(cfg.Providers.QuotaCooldown, cfg.Providers.TransientCooldown),
		provider.WithEngineLogger(zlog),
		provider.WithEngineMetrics(m),
	}
	if shared != nil {
		poolOpts = append(poolOpts, credentials.WithSharedState(shared))
		engineOpts = append(engineOpts, provider.WithEngineSharedState(shared))
	}
	invoke := provider.InvokeConfig{
		KeyCooldown: cfg.Providers.KeyCooldown,
		CallTimeout: cfg.Providers.CallTimeout,
	}

	set := &providerSet{}
	var err error
	if len(cfg.Gemini.APIKeys) > 0 {
		set.geminiPool, err = credentials.NewPool(gemini.Name, cfg.Gemini.APIKeys, gemini.NewFactory(cfg.Gemini.Endpoint), poolOpts...)
		if err != nil {
			return nil, err
		}
	}
	if len(cfg.Deepgram.APIKeys) > 0 {
		set.deepgramPool, err = credentials.NewPool[string](config.ProviderDeepgram, cfg.Deepgram.APIKeys, transcription.KeyFactory, poolOpts...)
		if err != nil {
			return nil, err
		}
	}

	var transcribers []transcription.Provider
	for _, name := range cfg.Providers.Transcription {
		switch name {
		case config.ProviderGemini:
			transcribers = append(transcribers,
				transcription.NewGeminiTranscriber(set.geminiPool, cfg.Gemini.TranscriptionModel, invoke, zlog))
		case config.ProviderDeepgram:
			transcribers = append(transcribers, transcription.NewDeepgramTranscriber(set.deepgramPool, transcription.DeepgramConfig{
				Endpoint: cfg.Deepgram.Endpoint,
				Model:    cfg.Deepgram.Model,
				Language: cfg.Deepgram.Language,
			}, invoke, zlog))
		case config.ProviderWhisper:
			transcribers = append(transcribers, transcription.NewWhisperTranscriber(transcription.WhisperConfig{
				Command:  cfg.Whisper.Command,
				Model:    cfg.Whisper.Model,
				Language: cfg.Whisper.Language,
				TempDir:  cfg.Storage.MediaDir,
			}, zlog))
		}
	}
	set.transcription, err = provider.NewEngine("transcription", transcribers, engineOpts...)
	if err != nil {
		return nil, err
	}

	var generators []generation.Provider
	for _, name := range cfg.Providers.Generation {
		if name == config.ProviderGemini {
			generators = append(generators, generation.NewGeminiGenerator(set.geminiPool, cfg.Gemini.GenerationModel, invoke))
		}
	}
	set.generation, err = provider.NewEngine("generation", generators, engineOpts...)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// buildNotifiers returns the fan-out plus the email notifier, which is nil
// when email is disabled.
func buildNotifiers(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (*notify.Fanout, *notify.Email) {
	fanout := notify.NewFanout(zlog, notify.NewLocalArchive(storage.NewLocalStorage(cfg.Storage.OutputDir), zlog))

	var email *notify.Email
	if cfg.Email.Enabled {
		email = notify.NewEmail(notify.EmailConfig{
			Host:       cfg.Email.Host,
			Port:       cfg.Email.Port,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			Recipients: cfg.Email.Recipients,
			Admins:     cfg.Email.Admins,
		}, nil)
		fanout.Add(email)
		zlog.Info("email notifications enabled", zap.Strings("recipients", cfg.Email.Recipients))
	}

	// Google Drive archive (optional - may fail if credentials not set up)
	if cfg.GoogleDrive.Enabled {
		driveClient, err := storage.NewDriveClient(ctx, storage.DriveConfig{
			CredentialsFile: cfg.GoogleDrive.CredentialsFile,
			TokenFile:       cfg.GoogleDrive.TokenFile,
			FolderName:      cfg.GoogleDrive.FolderName,
			AuthInput:       os.Stdin,
		})
		if err != nil {
			zlog.Warn("google drive not available; archiving locally only", zap.Error(err))
		} else {
			fanout.Add(notify.NewDriveArchive(driveClient, zlog))
			zlog.Info("google drive archive enabled", zap.String("folder", cfg.GoogleDrive.FolderName))
		}
	}
	return fanout, email
}

func run(cfg *config.Config, zlog *zap.Logger, logBuffer *logging.Buffer) error {
	ctx := context.Background()

	for _, dir := range []string{cfg.Storage.MediaDir, cfg.Storage.OutputDir, filepath.Dir(cfg.Storage.Database)} {
		if err := cleanup.EnsureDir(dir); err != nil {
			return err
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var shared credentials.SharedState
	if cfg.Redis.Address != "" {
		client, err := credentials.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		shared = credentials.NewRedisState(client, cfg.Redis.Prefix)
		zlog.Info("sharing cooldowns through redis", zap.String("address", cfg.Redis.Address))
	}

	providers, err := buildProviders(cfg, shared, m, zlog)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	store, err := storage.NewJobStore(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	ytdlp := media.NewYtDlp(media.YtDlpConfig{
		Binary:      cfg.Media.YtDlpBinary,
		CookiesFile: cfg.Media.CookiesFile,
		MediaDir:    cfg.Storage.MediaDir,
	}, zlog)
	ffmpeg := media.NewFFmpeg(media.FFmpegConfig{
		Binary:        cfg.Media.FFmpegBinary,
		MaxSeconds:    cfg.Media.MaxSeconds,
		MinAudioBytes: cfg.Media.MinAudioBytes,
	})
	var posts media.PostFetcher
	if cfg.Media.ImagePosts {
		posts = media.NewChromePostFetcher(media.PostConfig{
			MediaDir:  cfg.Storage.MediaDir,
			Timeout:   cfg.Media.PostTimeout,
			MaxImages: cfg.Media.MaxImages,
		}, zlog)
	}

	notifier, email := buildNotifiers(ctx, cfg, zlog)

	workerPool := queue.NewWorkerPool(
		queue.Config{Workers: cfg.Workers.Count, LeaseTTL: cfg.Workers.LeaseTTL},
		store,
		media.NewSource(ytdlp, posts, ffmpeg),
		transcription.NewService(providers.transcription),
		generation.NewService(providers.generation, zlog),
		notifier,
		m,
		zlog,
	)

	jobService := jobs.NewService(store, workerPool, media.NewIDResolver(ytdlp), jobs.Config{
		AllowedHosts:   cfg.Jobs.AllowedHosts,
		StuckThreshold: cfg.Jobs.StuckThreshold,
	}, zlog)
	selector := recall.NewSelector(store)

	// Scheduled jobs
	janitor := cleanup.NewJanitor(cfg.Storage.MediaDir, cfg.Cleanup.MaxAge, zlog)
	janitor.Run()

	cronLog := logging.CronLogger(zlog)
	scheduler := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	if _, err := scheduler.AddJob(cfg.Cleanup.Schedule, janitor); err != nil {
		return fmt.Errorf("schedule media cleanup: %w", err)
	}
	if cfg.Recall.Enabled && email != nil {
		mailer := recall.NewMailer(selector, email, cfg.Recall.Limit, zlog)
		if _, err := scheduler.AddJob(cfg.Recall.Schedule, mailer); err != nil {
			return fmt.Errorf("schedule daily recall: %w", err)
		}
		zlog.Info("daily recall scheduled", zap.String("schedule", cfg.Recall.Schedule))
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error(), "code": "ERR_HTTP"})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	jobsHandler := handlers.NewJobsHandler(jobService, zlog)
	streamHandler := handlers.NewStreamHandler(jobService, zlog)
	systemHandler := handlers.NewSystemHandler(
		selector,
		cfg.Recall.Limit,
		providers.pools(),
		[]handlers.EngineStatus{providers.transcription, providers.generation},
		logBuffer,
		zlog,
	)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Post("/process", jobsHandler.Process)
	api.Get("/jobs/:id", jobsHandler.Get)
	api.Get("/insights", jobsHandler.Insights)
	api.Get("/recall", systemHandler.Recall)
	api.Get("/providers", systemHandler.Providers)
	api.Get("/logs", systemHandler.Logs)

	// WebSocket route
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:id", websocket.New(streamHandler.Handle))

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		zlog.Info("shutting down gracefully")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			zlog.Warn("http shutdown incomplete", zap.Error(err))
		}
	}()

	addr := cfg.Address()
	zlog.Info("server starting",
		zap.String("address", addr),
		zap.Strings("transcription", cfg.Providers.Transcription),
		zap.Strings("generation", cfg.Providers.Generation),
		zap.Int("workers", cfg.Workers.Count))

	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("background jobs cancelled at shutdown", zap.Error(err))
	}
	return nil
}
