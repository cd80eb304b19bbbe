package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/streamchat"
	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/notify"
	"github.com/joho/godotenv"
)

func main() {
	// API keys may come from a local .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading .env file: %w", err))
	}

	cfgReader, cfgSource, err := openConfig()
	if err != nil {
		log.Fatal(err)
	}
	defer cfgReader.Close()

	cfg, err := loadConfig(cfgReader)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.newLogger(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)
	logger.Info("Loaded config", slog.String("source", cfgSource))

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}

	notices := notify.NewStore()
	m := handlers.NewMain(llm, notices, logger)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
		notices.Close()
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// openConfig opens STREAMCHAT_CONFIG when set, else config.yaml in the user config directory, else the
// embedded default. It returns the reader and a description of where the config came from.
func openConfig() (io.ReadCloser, string, error) {
	cfgFilePath, explicit := os.LookupEnv("STREAMCHAT_CONFIG")
	if !explicit {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, "", fmt.Errorf("error getting user config dir: %w", err)
		}
		cfgFilePath = filepath.Join(cfgDir, "streamchat", "config.yaml")
	}

	cfgFile, err := os.Open(cfgFilePath)
	if err == nil {
		return cfgFile, cfgFilePath, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("error opening config file: %w", err)
	}
	return io.NopCloser(bytes.NewReader(streamchat.DefaultConfig)), "embedded default", nil
}
