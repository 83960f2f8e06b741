package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/infrastructure/http/server"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until SIGINT/SIGTERM.
// Deferred cleanups run before main exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	charReplacement, err := config.CharacterRune()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	messageRepository, err := repositories.NewMessageRepository(db, log)
	if err != nil {
		return exitRuntime, fmt.Errorf("message log: %w", err)
	}
	defer func() { _ = messageRepository.Close() }()

	// 3. Membership oracle
	var oracle contract.MembershipOracle
	switch config.MembershipBackend {
	case membershipRedis:
		client, err := repositories.NewRedisClient(ctx, config.RedisURL)
		if err != nil {
			return exitRuntime, err
		}
		defer func() { _ = client.Close() }()
		oracle = repositories.NewRedisMembership(client)
	default:
		oracle = repositories.NewMembershipRepository(db, log)
	}
	log.Info("Membership oracle ready", "backend", config.MembershipBackend)

	// 4. Message service
	options := []services.Option{services.WithMaxTextLength(config.MaxTextLength)}
	if config.CensoredDir != "" {
		moderator, err := loadModerator(log, config.CensoredDir, charReplacement)
		if err != nil {
			return exitConfig, err
		}
		options = append(options, services.WithModerator(moderator))
	}
	messageService := services.NewMessageService(log, messageRepository, options...)

	// 5. Gateway & HTTP surface
	monitoring := observability.NewMonitoringManager(log)
	gateway := runtime.NewGateway(log, runtime.NewRegistry(), monitoring)
	verifier := auth.NewVerifier(config.JWTSecret, config.JWTIssuer)

	serverConfig := server.Config{
		AllowedOrigins:      config.AllowedOrigins,
		BodyLimit:           config.BodyLimit,
		LiveQueueSize:       config.LiveQueueSize,
		LiveEventsPerSecond: config.LiveEventsPerSecond,
		LiveBurst:           config.LiveBurst,
		LiveReadLimit:       config.LiveReadLimit,
		PingInterval:        config.PingInterval,
		PongWait:            config.PongWait,
		WriteTimeout:        config.WriteTimeout,
	}
	app := server.NewApp(log, serverConfig, verifier,
		server.NewChatHandler(log, messageService, oracle, gateway),
		server.NewLiveHandler(log, serverConfig, gateway, messageService, monitoring),
		monitoring)

	// 6. Supervision
	supervisor := workers.NewSupervisor(log).WithRestartDelay(config.RestartInterval)
	supervisor.Add(
		workers.NewServerWorker(log, app, config.HTTPAddr, config.ShutdownTimeout),
		workers.NewStatsWorker(log, gateway, monitoring, config.StatsInterval),
	)

	log.Info("Relay starting", "addr", config.HTTPAddr, "db", config.BadgerFilepath)
	supervisor.Run(ctx)
	log.Info("Relay stopped cleanly")
	return exitOK, nil
}

func loadModerator(log *slog.Logger, dir string, replacement rune) (*moderation.Moderator, error) {
	dictionary, err := moderation.LoadDictionary(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("censored words in %s: %w", dir, err)
	}
	log.Info("Censored words loaded", "languages", dictionary.Languages, "words", len(dictionary.Words))
	return moderation.NewModerator(dictionary.Words, replacement)
}
