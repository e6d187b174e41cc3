package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BYU-PCCL/footron-api/internal/auth"
	"github.com/BYU-PCCL/footron-api/internal/config"
	"github.com/BYU-PCCL/footron-api/internal/controllerclient"
	"github.com/BYU-PCCL/footron-api/internal/httpapi"
	"github.com/BYU-PCCL/footron-api/internal/router"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const defaultAddr = ":8080"

var rootCmd = &cobra.Command{
	Use:     "ftbroker",
	Short:   "Footron auth-code manager and messaging broker",
	Long:    "ftbroker serves the Footron museum platform's rotating auth codes, REST proxy, and bidirectional websocket message router.",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ftbroker %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unrecognized log level, defaulting to info")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("base_url", cfg.BaseURL).Str("controller_url", cfg.ControllerURL).Msg("starting ftbroker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := controllerclient.New(cfg.ControllerURL)
	authManager := auth.NewManager(controller, cfg.BaseURL, cfg.AuthTimeout)
	defer authManager.Close()

	hub := router.NewHub(authManager, controller)
	defer hub.Close()

	apiRouter := httpapi.New(authManager, controller, cfg.BaseURL)

	mux := http.NewServeMux()
	mux.Handle("/messaging/", hub.Handler())
	mux.Handle("/api/", apiRouter)
	mux.Handle("/metrics", apiRouter)

	srv := &http.Server{
		Addr:         defaultAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", defaultAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	log.Info().Msg("server stopped")
}
