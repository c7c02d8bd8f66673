package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"seedwatch/internal/apiclient"
	"seedwatch/internal/config"
	"seedwatch/internal/registry"
)

// App holds initialized infrastructure that is guaranteed to be connected.
// If you have an *App, you know the registry database is open and the
// external API client is configured.
//
// This is NOT a god object - it just holds the "dangerous" infrastructure
// that requires connection/retry logic. Scheduling logic does NOT go here.
type App struct {
	Config *config.Config

	// Registry is the shared user-registry handle, cache-wrapped per config.
	Registry registry.Registry

	// API is the process-wide external download-service client.
	API *apiclient.Client

	registryStore registry.Store
	cleanupFuncs  []func() error
}

// AppOptions configures which infrastructure to initialize.
type AppOptions struct {
	// RegistryDBPath is the path to the shared registry sqlite database.
	// Defaults to "<DataDir>/registry.db" when empty.
	RegistryDBPath string
}

// Initialize creates an App with connected infrastructure. Returns an error
// if any required connection fails.
//
// Usage:
//
//	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func Initialize(ctx context.Context, opts AppOptions) (*App, func(), error) {
	app := &App{}

	cfg, err := config.LoadWithFile()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	if err := app.initRegistry(ctx, opts); err != nil {
		app.Cleanup()
		return nil, nil, err
	}

	app.API = apiclient.New(apiclient.Config{
		BaseURL:    cfg.API.Base,
		APIVersion: cfg.API.Version,
		RateLimit:  rate.Limit(10),
		Burst:      20,
	})

	cleanup := func() {
		app.Cleanup()
	}

	return app, cleanup, nil
}

// AddCleanup registers a cleanup function to be called on shutdown.
// Functions are called in reverse order of registration.
func (app *App) AddCleanup(fn func() error) {
	app.cleanupFuncs = append(app.cleanupFuncs, fn)
}

// initRegistry opens the shared registry store and wraps it with the
// configured cache backend.
func (app *App) initRegistry(ctx context.Context, opts AppOptions) error {
	cfg := app.Config

	dbPath := opts.RegistryDBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "registry.db")
	}

	slog.Info("opening registry store", "path", dbPath)

	store, err := registry.OpenSQLStore(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open registry store: %w", err)
	}
	app.registryStore = store
	app.AddCleanup(func() error {
		slog.Info("closing registry store")
		return store.Close()
	})

	var backend registry.Backend
	switch cfg.Registry.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Registry.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Registry.RedisAddr, err)
		}
		backend = registry.NewRedisCache(client)
		app.AddCleanup(func() error {
			slog.Info("closing redis connection")
			return client.Close()
		})
	default:
		backend = registry.NewInMemoryCache()
	}

	app.Registry = registry.New(store, backend)
	return nil
}

// Cleanup runs all cleanup functions in reverse order.
func (app *App) Cleanup() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		if err := app.cleanupFuncs[i](); err != nil {
			slog.Error("cleanup error", "error", err)
		}
	}
}
