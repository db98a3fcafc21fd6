package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/skybon/weatherchecker/internal/config"
	"github.com/skybon/weatherchecker/internal/history"
	"github.com/skybon/weatherchecker/internal/proxy"
	"github.com/skybon/weatherchecker/internal/weather"
	"github.com/skybon/weatherchecker/internal/weather/providers"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "weatherchecker",
		Short:         "Poll weather sources for many locations and keep a normalized history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (default: search for weatherchecker.toml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newRefreshCmd(&configPath),
		newURLsCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components holds everything built from one loaded configuration.
type components struct {
	cfg     *config.Config
	logger  *slog.Logger
	matrix  *proxy.Matrix
	history *history.Log
	service *weather.Service
}

func build(configPath string) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// Shared HTTP client for outbound source calls; the per-fetch timeout is
	// applied by the transport.
	transport := proxy.NewTransport(proxy.HTTPClientConfig{
		Client:  &http.Client{},
		Timeout: cfg.Fetch.Timeout,
		Breaker: proxy.BreakerConfig{
			MaxRequests:         cfg.Breaker.MaxRequests,
			Interval:            cfg.Breaker.Interval,
			Timeout:             cfg.Breaker.Timeout,
			ConsecutiveFailures: cfg.Breaker.Failures,
		},
	}, logger)

	matrix := proxy.NewMatrix(cfg.Categories(), cfg.Sources(), transport.ForSource,
		proxy.WithMaxConcurrency(cfg.Fetch.MaxConcurrency),
		proxy.WithLogger(logger),
	)
	for _, loc := range cfg.Locations() {
		if err := matrix.AddLocation(loc, cfg.Env); err != nil {
			return nil, fmt.Errorf("failed to add location %s: %w", loc.Key(), err)
		}
	}

	historyLog := history.New(providers.NewRegistry(), logger)
	service := weather.NewService(cfg.Categories(), matrix, historyLog, logger)

	logger.Info("weatherchecker initialized",
		"categories", len(cfg.CategoryNames),
		"sources", len(cfg.SourceList),
		"locations", len(cfg.LocationList),
		"proxies", matrix.Len(),
	)

	return &components{
		cfg:     cfg,
		logger:  logger,
		matrix:  matrix,
		history: historyLog,
		service: service,
	}, nil
}

func newRefreshCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <category>",
		Short: "Run one refresh sweep and print the recorded history entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}

			category := weather.Category(args[0])
			if !c.service.HasCategory(category) {
				return fmt.Errorf("unknown category %q", category)
			}

			entry, fetchErr := c.service.Refresh(cmd.Context(), category)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(entry); err != nil {
				return err
			}
			return fetchErr
		},
	}
}

func newURLsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "urls",
		Short: "Print the resolved request URL of every proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, info := range c.matrix.ProxyInfo() {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", info.Category, info.Source.Name, info.Location.Key(), info.URL)
			}
			return nil
		},
	}
}
