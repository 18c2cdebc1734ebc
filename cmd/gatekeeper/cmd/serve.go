package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ntdev/gatekeeper/bot"
	"github.com/ntdev/gatekeeper/gate"
	"github.com/ntdev/gatekeeper/internal/config"
	bboltstorage "github.com/ntdev/gatekeeper/storage/bbolt"
	"github.com/ntdev/gatekeeper/transport/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(cfg.DataDir+"/gatekeeper.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer repo.Close()

		client := telegram.NewClient(cfg.BotToken)
		ctrl := gate.NewController(repo, client, cfg.Gate(), gate.WithLogger(logger))
		dispatcher := bot.NewDispatcher(ctrl, client, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(ctrl.Status())
		})

		server := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("status server failed: %w", err)
				return
			}
			done <- nil
		}()

		ctrl.OnStartup(ctx)

		var wg sync.WaitGroup
		for _, task := range ctrl.BackgroundTasks() {
			wg.Add(1)
			go func(task func(context.Context)) {
				defer wg.Done()
				task(ctx)
			}(task)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Poll(ctx, dispatcher.HandleUpdate); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("update poll loop terminated", "err", err)
			}
		}()

		logger.Info("gatekeeper started", "status_addr", cfg.StatusAddr, "data_dir", cfg.DataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
		case err := <-done:
			cancel()
			wg.Wait()
			return err
		}

		cancel()
		wg.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
