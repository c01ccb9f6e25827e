package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Display the effective configuration.

Without arguments, displays all values. With one argument (key),
displays the value for that dot-notation key.

Configuration is read from ~/.config/lever/config.yaml, overridden by
.lever.yaml in the working directory and LEVER_* environment variables.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return
		}

		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("server.listen_addr: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("server.shutdown_grace: %s\n", cfg.Server.ShutdownGrace)
	fmt.Printf("storage.db_path: %s\n", displayPath(cfg.Storage.DBPath))
	fmt.Printf("storage.in_memory: %t\n", cfg.Storage.InMemory)
	fmt.Printf("engine.dispatch_timeout: %s\n", cfg.Engine.DispatchTimeout)
	fmt.Printf("engine.retry_backoff: %s\n", cfg.Engine.RetryBackoff)
	fmt.Printf("engine.ui_request_timeout: %s\n", cfg.Engine.UIRequestTimeout)
	fmt.Printf("engine.resume_token_ttl: %s\n", cfg.Engine.ResumeTokenTTL)
	fmt.Printf("engine.expiry_sweep_interval: %s\n", cfg.Engine.ExpirySweepInterval)
	fmt.Printf("templates.dir: %s\n", cfg.Templates.Dir)
	fmt.Printf("templates.hot_reload: %t\n", cfg.Templates.HotReload)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "server.listen_addr":
		return cfg.Server.ListenAddr, nil
	case "server.shutdown_grace":
		return cfg.Server.ShutdownGrace.String(), nil
	case "storage.db_path":
		return displayPath(cfg.Storage.DBPath), nil
	case "storage.in_memory":
		return strconv.FormatBool(cfg.Storage.InMemory), nil
	case "engine.dispatch_timeout":
		return cfg.Engine.DispatchTimeout.String(), nil
	case "engine.retry_backoff":
		return cfg.Engine.RetryBackoff.String(), nil
	case "engine.ui_request_timeout":
		return cfg.Engine.UIRequestTimeout.String(), nil
	case "engine.resume_token_ttl":
		return cfg.Engine.ResumeTokenTTL.String(), nil
	case "engine.expiry_sweep_interval":
		return cfg.Engine.ExpirySweepInterval.String(), nil
	case "templates.dir":
		return cfg.Templates.Dir, nil
	case "templates.hot_reload":
		return strconv.FormatBool(cfg.Templates.HotReload), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

func displayPath(path string) string {
	if path == "" {
		return "(default)"
	}
	return path
}
