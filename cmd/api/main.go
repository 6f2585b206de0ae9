// Command api runs the chat server: a websocket endpoint backed by MongoDB,
// verifying RS256 tokens minted by the account service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yeonboard/chatserver/internal/auth"
	"github.com/yeonboard/chatserver/internal/chat"
	"github.com/yeonboard/chatserver/internal/config"
	"github.com/yeonboard/chatserver/internal/data"
	"github.com/yeonboard/chatserver/internal/db"
	"github.com/yeonboard/chatserver/internal/identity"
	"github.com/yeonboard/chatserver/internal/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error disconnecting from MongoDB")
		}
	}()
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	if err := mongoClient.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create indexes")
	}

	verifier, err := auth.NewVerifierFromFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Auth.PublicKeyPath).Msg("failed to load token public key")
	}

	users := data.NewUsersStore(mongoClient.UsersCollection())
	messages := data.NewMessagesStore(mongoClient.MessagesCollection())
	conversations := data.NewConversationsStore(mongoClient.ConversationsCollection())

	resolver := identity.NewResolver(users)

	authLimiter := middleware.NewLimiterStore(cfg.Auth.AttemptsPerMinute, cfg.Auth.AttemptsPerMinute, 5*time.Minute)
	defer authLimiter.Stop()

	server := chat.NewServer(verifier, resolver, users, messages, conversations, chat.NewRegistry(), chat.NewHub(), chat.Options{
		ReadLimit:      cfg.Server.ReadLimit,
		EventRate:      cfg.Server.EventRate,
		EventBurst:     cfg.Server.EventBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthLimiter:    authLimiter,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("chat server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}
