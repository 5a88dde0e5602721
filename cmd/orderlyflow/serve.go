package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/orderlyflow/internal/database"
	"github.com/dukerupert/orderlyflow/internal/email"
	"github.com/dukerupert/orderlyflow/internal/metrics"
	"github.com/dukerupert/orderlyflow/internal/server"
	"github.com/dukerupert/orderlyflow/internal/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend HTTP and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			objects, err := newObjectStore()
			if err != nil {
				return err
			}

			mailer := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From, cfg.Server.BaseURL)
			if !mailer.Configured() {
				logger.Warn("postmark token not set, invitation emails are disabled")
			}

			srv := server.New(db, objects, mailer, metrics.New(), server.Config{
				TokenSecret:    cfg.Auth.TokenSecret,
				TokenTTL:       cfg.Auth.TokenTTL,
				MaxUploadBytes: cfg.Storage.MaxUploadBytes,
				SignInLimit:    cfg.Auth.SignInLimit,
			}, logger)
			go srv.RunMaintenance(ctx)

			// No WriteTimeout: realtime subscriptions are long-lived.
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("orderlyflow listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Driver)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

func newObjectStore() (storage.Store, error) {
	if cfg.Storage.Driver != "s3" {
		logger.Warn("using in-memory object storage, uploads are lost on restart")
		return storage.NewMemory(), nil
	}
	s3cfg := cfg.Storage.S3
	objects, err := storage.NewS3(storage.S3Config{
		Endpoint:  s3cfg.Endpoint,
		Region:    s3cfg.Region,
		Bucket:    s3cfg.Bucket,
		AccessKey: s3cfg.AccessKey,
		SecretKey: s3cfg.SecretKey,
		Prefix:    s3cfg.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 storage: %w", err)
	}
	return objects, nil
}
