package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/internal/agent"
	"github.com/gianmatteo-arcana/engine-lever/internal/config"
	"github.com/gianmatteo-arcana/engine-lever/internal/contextstore"
	"github.com/gianmatteo-arcana/engine-lever/internal/engine"
	"github.com/gianmatteo-arcana/engine-lever/internal/httpapi"
	"github.com/gianmatteo-arcana/engine-lever/internal/pauseresume"
	"github.com/gianmatteo-arcana/engine-lever/internal/uiaugment"
)

var (
	serveListenAddr string
	serveInMemory   bool
	serveDBPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and its HTTP API",
	Long: `Start the task engine and serve its HTTP API.

Tasks are stored in an SQLite database (XDG data dir by default) and
survive restarts. Templates are loaded from the configured templates
directory and hot-reloaded when templates.hot_reload is enabled.

The Anthropic API key comes from ANTHROPIC_API_KEY or the config file;
AWS Bedrock is used instead when anthropic.use_aws_bedrock is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveInMemory, "in-memory", false, "Use the in-memory store (state is lost on exit)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "SQLite database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}
	if serveInMemory {
		cfg.Storage.InMemory = true
	}
	if serveDBPath != "" {
		cfg.Storage.DBPath = serveDBPath
	}

	store, tokenStore, requestStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	router, err := agent.NewRouter(agent.StandardRegistrations(provider))
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	router.SetDispatchTimeout(cfg.Engine.DispatchTimeout)

	requests := uiaugment.NewManager(requestStore, store, cfg.Engine.UIRequestTimeout)
	tokens := pauseresume.NewManager(tokenStore, store, cfg.Engine.ResumeTokenTTL)

	registry, err := config.NewTemplateRegistry(cfg.Templates.Dir)
	if err != nil {
		return fmt.Errorf("load templates from %s: %w", cfg.Templates.Dir, err)
	}
	defer registry.Close()
	if cfg.Templates.HotReload {
		if err := registry.Watch(); err != nil {
			return fmt.Errorf("watch templates: %w", err)
		}
	}

	eng, err := engine.New(engine.Options{
		Store:         store,
		Router:        router,
		Requests:      requests,
		Tokens:        tokens,
		Templates:     registry,
		RetryBackoff:  cfg.Engine.RetryBackoff,
		SweepInterval: cfg.Engine.ExpirySweepInterval,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	eng.Start()

	srv := httpapi.NewServer(cfg.Server.ListenAddr, eng)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	fmt.Printf("%s Engine listening on %s (templates: %s)\n",
		color.GreenString("✓"), cfg.Server.ListenAddr, cfg.Templates.Dir)
	fmt.Printf("  Task types: %v\n", registry.TaskTypes())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case s := <-sig:
		log.Printf("[serve] received %s, shutting down", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[serve] http shutdown: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		log.Printf("[serve] engine shutdown: %v", err)
	}
	return nil
}

// openStores opens the event, resume-token, and UI-request stores,
// sharing one SQLite database in the durable case.
func openStores(cfg *config.Config) (contextstore.Store, pauseresume.TokenStore, uiaugment.RequestStore, error) {
	if cfg.Storage.InMemory {
		return contextstore.NewMemoryStore(),
			pauseresume.NewMemoryTokenStore(),
			uiaugment.NewMemoryRequestStore(),
			nil
	}

	path := cfg.Storage.DBPath
	if path == "" {
		path = contextstore.DefaultDBPath()
	}
	store, err := contextstore.OpenSQLiteStore(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	log.Printf("[serve] using database %s", path)
	return store,
		pauseresume.NewSQLiteTokenStore(store.DB()),
		uiaugment.NewSQLiteRequestStore(store.DB()),
		nil
}

// buildProvider configures the reasoning backend from the Anthropic
// section of the config.
func buildProvider(cfg *config.Config) (agent.Provider, error) {
	apiKey, err := config.GetAPIKey(cfg)
	if err != nil && !cfg.Anthropic.UseAWSBedrock {
		return nil, err
	}
	provider, err := agent.NewAnthropicProvider(agent.ProviderConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("configure reasoning backend: %w", err)
	}
	return provider, nil
}
