// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the toolgate command-line
// application.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy"
	"github.com/ngardiner/toolgate/pkg/proxy/config"
	"github.com/ngardiner/toolgate/pkg/proxy/engine"
	"github.com/ngardiner/toolgate/pkg/telemetry"
)

var rootCmd = &cobra.Command{
	Use:               "toolgate",
	DisableAutoGenTag: true,
	Short:             "toolgate aggregates multiple MCP servers into one tool catalog",
	Long: `toolgate is an MCP proxy that connects to multiple backend MCP servers
(over stdio, SSE, or streamable HTTP), discovers their tools, resolves name
conflicts, and re-exposes everything as a single conflict-free catalog to a
hosting agent runtime.

Every proxied call is validated against the tool's input schema before it
reaches the backend, and results are normalized with execution metadata.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the toolgate CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to toolgate configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the toolgate proxy",
		Long: `Start the toolgate proxy: connect to every enabled backend server,
discover and aggregate their tools, and serve the combined catalog over
streamable HTTP. Prometheus metrics are served on the same listener.`,
		RunE: runServe,
	}
	cmd.Flags().String("host", "127.0.0.1", "Address to listen on")
	cmd.Flags().String("port", "8080", "Port to listen on")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate the toolgate configuration file for syntax and semantic errors.

This command checks:
- JSON syntax validity
- Per-server transport requirements (command for stdio, url for sse/http)
- Global settings ranges and the log level enum`,
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			logger.Infof("Validating configuration: %s", configPath)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			logger.Infof("Configuration is valid")
			logger.Infof("  Servers configured: %d", len(cfg.MCPServers))
			logger.Infof("  Servers enabled: %d", len(cfg.EnabledServers()))
			logger.Infof("  Discovery interval: %s", cfg.Global.DiscoveryPeriod())
			logger.Infof("  Health check interval: %s", cfg.Global.HealthCheckPeriod())
			logger.Infof("  Timeline logging: %t", cfg.Global.EnableTimelineLogging)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("toolgate version: %s", proxy.Version)
		},
	}
}

// runServe implements the serve command logic.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config flag")
	}

	eng := engine.New()
	if err := eng.Initialize(configPath); err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	// Build the hosting MCP server and hand it the aggregated catalog.
	mcpServer := server.NewMCPServer(
		"toolgate",
		proxy.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	count, err := eng.RegisterProxyTools(engine.NewMCPGoHost(mcpServer))
	if err != nil {
		return fmt.Errorf("failed to register proxy tools: %w", err)
	}

	stats := eng.Stats()
	logger.Infof("Serving %d tools from %d/%d backend servers",
		count, stats.ServersConnected, stats.ServersConfigured)
	if stats.ConflictsDetected > 0 {
		logger.Infof("  Name conflicts resolved: %d", stats.ConflictsDetected)
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetString("port")
	addr := fmt.Sprintf("%s:%s", host, port)

	streamableServer := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamableServer)
	mux.Handle("/metrics", telemetry.Handler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting toolgate MCP server on http://%s/mcp", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("MCP server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down toolgate...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
