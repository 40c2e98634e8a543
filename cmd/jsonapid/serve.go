package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// SQL drivers selected by database.driver in jsonapi.yml.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/apifabric/jsonapi/app"
	"github.com/apifabric/jsonapi/cache"
	"github.com/apifabric/jsonapi/config"
	"github.com/apifabric/jsonapi/params"
)

var serveConfigDir string

func init() {
	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", ".", "Directory containing jsonapi.yml")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo resource server",
	Long:  "Load the configuration, open the database and serve the demo resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrom(serveConfigDir)
		if err != nil {
			return err
		}

		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()

		db, err := sql.Open(cfg.Database.Driver, cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("failed to reach database: %w", err)
		}

		opts := []app.Option{
			app.WithLogger(logger),
			app.WithLimits(params.Limits{
				DefaultPageSize: cfg.API.DefaultPageSize,
				MaxPageSize:     cfg.API.MaxPageSize,
				MaxIncludeDepth: cfg.API.MaxIncludeDepth,
			}),
			app.WithMaxBodyBytes(cfg.API.MaxBodyBytes),
		}

		store, err := openCache(cfg)
		if err != nil {
			return err
		}
		if store != nil {
			opts = append(opts, app.WithCache(store, time.Duration(cfg.Cache.TTLSeconds)*time.Second))
		}

		a := app.New(db, opts...)
		if err := registerDemoResources(a); err != nil {
			return err
		}

		var handler http.Handler = a.Handler()
		if cfg.Server.APIPrefix != "" {
			mux := chi.NewRouter()
			mux.Mount(cfg.Server.APIPrefix, handler)
			handler = mux
		}

		server := &http.Server{
			Addr:    cfg.Addr(),
			Handler: handler,
		}

		color.Green("jsonapid listening on http://%s%s", cfg.Addr(), cfg.Server.APIPrefix)
		color.Cyan("database: %s, cache: %s", cfg.Database.Driver, cfg.Cache.Backend)

		errChan := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errChan:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigChan:
			color.Yellow("received %s, shutting down...", sig)
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	},
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryCache(), nil
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:   cfg.Cache.RedisAddr,
			DB:     cfg.Cache.RedisDB,
			Config: cache.DefaultConfig(),
		})
	default:
		return nil, nil
	}
}
