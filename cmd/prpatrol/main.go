// Package main is the entry point for PRPatrol, an autonomous pull
// request review agent driven by an LLM CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/check"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/server"
	"github.com/prpatrol/prpatrol/pkg/consts"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
	"github.com/prpatrol/prpatrol/pkg/telemetry"

	// Register forge provider implementations.
	_ "github.com/prpatrol/prpatrol/internal/forge/gitea"
	_ "github.com/prpatrol/prpatrol/internal/forge/github"
	_ "github.com/prpatrol/prpatrol/internal/forge/gitlab"

	// Register LLM client implementations.
	_ "github.com/prpatrol/prpatrol/internal/llm/claude"
)

// Build information - set via ldflags during build.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	consts.Version = Version
	consts.BuildTime = BuildTime
	consts.GitCommit = GitCommit
}

const defaultConfigPath = "config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "prpatrol",
	Short: "PRPatrol - autonomous pull request review agent",
	Long: `PRPatrol watches pull requests on GitHub, Gitea or GitLab, runs an
LLM CLI against each new revision and posts structured review comments.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review agent",
	Long: `Start the agent: webhook ingress and dashboard API, startup recovery,
and the polling loop when enabled.

On first run, create a configuration interactively:
  prpatrol check`,
	Run: runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the environment and bootstrap configuration",
	Long: `Verify that git, the LLM CLI, the forge token and the data directories
are usable. Without --ci the check runs interactively and offers to
create a missing config file.`,
	Run: runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", consts.DisplayName, Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")

	serveCmd.Flags().Bool("dry-run", false, "log reviews without posting to the forge")
	checkCmd.Flags().Bool("ci", false, "non-interactive mode: plain output, exit nonzero on errors")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration from %s: %v\n", configPath, err)
		fmt.Fprintln(os.Stderr, "Run 'prpatrol check' to create one.")
		os.Exit(errors.ExitCodeConfigValidation)
	}
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cfg.Review.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(errors.ExitCodeConfigValidation)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting "+consts.DisplayName,
		zap.String("version", Version),
		zap.Bool("dry_run", cfg.Review.DryRun),
	)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	app, err := server.New(cfg)
	if err != nil {
		logger.Fatal("Failed to build application", zap.Error(err))
	}
	if err := app.Start(); err != nil {
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	app.WaitForShutdown()
	logger.Info(consts.DisplayName + " stopped")
}

func runCheck(cmd *cobra.Command, args []string) {
	checker := check.NewChecker(configPath)

	if ci, _ := cmd.Flags().GetBool("ci"); ci {
		res := checker.RunCI(cmd.Context())
		check.PrintPlain(res)
		if !res.Success() {
			os.Exit(1)
		}
		return
	}

	if err := checker.Run(cmd.Context()); err != nil {
		fmt.Fprintf(os.Stderr, "Environment check failed: %v\n", err)
		os.Exit(1)
	}
}
