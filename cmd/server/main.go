package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/Tushar-Sukhwal/ZoomOut/internal/adapters/http"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/adapters/relay"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/adapters/webhook"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/app"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/config"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/livekit"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/speech"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	registry := app.NewRegistry()
	issuer := livekit.NewTokenIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	rooms := livekit.NewRoomProvisioner(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.RoomEmptyTimeout)
	egress := livekit.NewEgressManager(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.RelayPublicURL, cfg.EgressStartTimeout)

	api := &router.API{
		Registry: registry,
		Tokens:   issuer,
		Rooms:    rooms,
		Egress:   egress,
	}
	hooks := webhook.NewHandler(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, egress)
	rly := relay.NewController(relay.SpeechmaticsDialer(speech.Config{
		APIKey:         cfg.SpeechmaticsAPIKey,
		Endpoint:       cfg.SpeechmaticsURL,
		Language:       cfg.Language,
		EnablePartials: true,
	}, nil))

	r := router.SetupRouter(ctx, cfg, api, hooks, rly)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("ZoomOut server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
