package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/listing-agent/config"
	"github.com/raine/listing-agent/internal/backend"
	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/journal"
	"github.com/raine/listing-agent/internal/llm"
	"github.com/raine/listing-agent/internal/objectstore"
	"github.com/raine/listing-agent/internal/publish"
	"github.com/raine/listing-agent/internal/storage"
	"github.com/raine/listing-agent/internal/ui"
	"github.com/raine/listing-agent/internal/voice"
	"github.com/raine/listing-agent/internal/workflow"
)

const logFileName = "listing-agent.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Try to load existing .env file
	config.LoadEnvFile()

	// Check if required config is missing
	if missing := config.Missing(); len(missing) > 0 {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				waitOnWindows()
				os.Exit(1)
			}
		} else {
			fatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	// JOURNAL_STREAM is set by systemd when running as a service.
	// Skip file logging under systemd (journald handles it).
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		// Local: log to both stderr and file
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		multiWriter := io.MultiWriter(consoleWriter, fileWriter)
		log.Logger = log.Output(multiWriter)

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	cfg, err := config.Load()
	if err != nil {
		fatalWithWait("invalid config: %v", err)
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Derive encryption key from passphrase
	encryptionKey, err := storage.DeriveKey(cfg.StoreKey)
	if err != nil {
		fatalWithWait("failed to derive encryption key: %v", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, encryptionKey)
	if err != nil {
		fatalWithWait("failed to initialize listing store: %v", err)
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("listing store initialized")

	service := backend.NewClient(backend.ClientOpts{
		BaseURL: cfg.ListingServiceURL,
		Timeout: cfg.HTTPTimeout,
	})

	var analyzer workflow.Analyzer
	var synthesizer workflow.Synthesizer = service
	switch cfg.AnalysisBackend {
	case config.BackendGemini:
		gemini, err := llm.NewGeminiClient(ctx, llm.GeminiOpts{APIKey: cfg.GeminiAPIKey})
		if err != nil {
			fatalWithWait("failed to initialize gemini: %v", err)
		}
		analyzer = llm.NewCachedAnalyzer(gemini, store, config.BackendGemini)
		synthesizer = gemini
	default:
		analyzer = llm.NewCachedAnalyzer(service, store, config.BackendService)
	}
	log.Info().Str("backend", cfg.AnalysisBackend).Str("serviceURL", cfg.ListingServiceURL).Msg("analysis backend initialized")

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		fatalWithWait("failed to initialize image storage: %v", err)
	}
	defer uploader.Close()

	var tg publish.BotAPI
	if cfg.TelegramBotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			fatalWithWait("failed to initialize telegram bot: %v", err)
		}
		bot.Debug = false
		log.Info().Str("username", bot.Self.UserName).Int64("chatID", cfg.TelegramChatID).Msg("announcing listings on telegram")
		tg = bot
	}

	j, err := journal.Start(".")
	if err != nil {
		log.Warn().Err(err).Msg("failed to start session journal")
	} else {
		log.Info().Str("path", j.Path()).Msg("session journal started")
	}

	player := capture.NewCommandPlayer(cfg.PlayerCommand)
	defer player.Close()

	orch := workflow.New(workflow.Deps{
		Analyzer:   analyzer,
		Microphone: capture.NewCommandMicrophone(cfg.MicCommand),
		Voice: voice.NewDialer(voice.DialerOpts{
			AgentID: cfg.AgentID,
			APIKey:  cfg.ElevenLabsAPIKey,
		}),
		Transcripts: service,
		Synthesizer: synthesizer,
		Publisher:   publish.NewService(uploader, store, tg, cfg.TelegramChatID),
		Player:      player,
		Journal:     j,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Quitting the UI ends the program
		defer cancel()
		ui.PrintBanner(os.Stdout)
		return ui.NewApp(orch, ui.HuhPrompter{}, os.Stdout).Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("closing session")
		orch.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func newUploader(ctx context.Context, cfg *config.Config) (objectstore.Uploader, error) {
	if cfg.GCSBucket != "" {
		log.Info().Str("bucket", cfg.GCSBucket).Msg("uploading images to cloud storage")
		return objectstore.NewGCSUploader(ctx, cfg.GCSBucket)
	}
	log.Info().Str("dir", cfg.MediaDir).Msg("storing images locally")
	return objectstore.NewLocalUploader(cfg.MediaDir, cfg.MediaBaseURL)
}
