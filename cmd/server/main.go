package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/joho/godotenv"

	"github.com/Brownie44l1/shop-classifier/internal/artifact"
	"github.com/Brownie44l1/shop-classifier/internal/boot"
	"github.com/Brownie44l1/shop-classifier/internal/config"
	"github.com/Brownie44l1/shop-classifier/internal/handlers"
	"github.com/Brownie44l1/shop-classifier/internal/model"
)

func main() {
	if err := enterProjectRoot(); err != nil {
		log.WithError(err).Fatal("failed to locate project root")
	}

	configPath := os.Getenv("CLASSIFIER_CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := artifact.NewFetcher(cfg.Model.DownloadTimeout.Duration)
	classifier, err := boot.Run(ctx, cfg, fetcher, boot.LoadONNX)
	if err != nil {
		log.Fatal(reportBootError(os.Stderr, err))
	}
	defer classifier.Close()

	if !serveRequested(os.Args[1:]) {
		log.Info("boot finished; pass 'serve' to start the HTTP server")
		return
	}

	handler := handlers.NewHandler(classifier, handlers.Options{
		ViewFile:       cfg.Server.ViewFile,
		StaticDir:      cfg.Server.StaticDir,
		StaticPrefix:   cfg.Server.StaticPrefix,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	log.WithField("addr", srv.Addr).Info("server starting")
	log.Info("endpoints: GET / | POST /analyze (form field 'file') | POST /predict | GET /health | " + cfg.Server.StaticPrefix)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server failed")
	}
}

// enterProjectRoot moves to the repository root when started from cmd/server,
// then loads .env from there.
func enterProjectRoot() error {
	execPath, err := os.Getwd()
	if err != nil {
		return err
	}

	// If running from cmd/server, go up two levels
	if filepath.Base(execPath) == "server" {
		if err := os.Chdir(filepath.Join(execPath, "../..")); err != nil {
			return err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}
	return nil
}

// reportBootError returns the fatal log line for a failed boot. The GPU-only
// explanation spans several lines, so it goes to w verbatim, once.
func reportBootError(w io.Writer, err error) string {
	if errors.Is(err, model.ErrGPUOnly) {
		fmt.Fprintln(w, err.Error())
		return "model requires a GPU execution provider"
	}
	return "failed to initialize model server: " + err.Error()
}

func serveRequested(args []string) bool {
	for _, a := range args {
		if a == "serve" {
			return true
		}
	}
	return false
}

func setupLogging(cfg config.LoggingConfig) {
	switch cfg.Format {
	case "json":
		log.SetHandler(jsonhandler.New(os.Stderr))
	default:
		log.SetHandler(text.New(os.Stderr))
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
