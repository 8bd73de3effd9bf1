package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/embedsrv/embedsrv/internal/config"
	"github.com/embedsrv/embedsrv/internal/embedder"
	"github.com/embedsrv/embedsrv/internal/server"
	"github.com/embedsrv/embedsrv/internal/util"
)

// Version information, set by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// AppConfig is the configuration loaded by the root command's
// PersistentPreRunE and consumed by serve.
var AppConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "embedsrv",
	Short: "embedsrv is an OpenAI-compatible embeddings inference server.",
	Long:  `A lightweight HTTP server exposing an OpenAI-compatible embeddings API over locally loaded sentence-transformer models.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			slog.Debug("skipping configuration loading for this command", "command", cmd.Name())
			return nil
		}

		configPath, _ := cmd.Flags().GetString("config")
		slog.Debug("loading configuration", "path", configPath)

		loadedCfg, err := config.Load(configPath)
		if err != nil {
			var unknownFieldErr *config.ErrUnknownField
			if errors.As(err, &unknownFieldErr) {
				util.LogError(util.Logger, util.WrapError(util.KindInvalidInput, err,
					"configuration contains unknown fields"))
				os.Exit(78)
			}
			util.LogError(util.Logger, util.WrapError(util.KindInvalidInput, err, "failed to load configuration"))
			os.Exit(1)
		}

		AppConfig = loadedCfg
		util.Configure(AppConfig.Log.Filter)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		slog.Info("embedsrv: use -h or --help for available commands")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a new embedsrv.yml configuration file with default values.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("file")
		if err := config.WriteDefaultConfig(configPath); err != nil {
			wrapped := util.WrapError(util.KindInternal, err, "failed to write default config")
			util.LogError(util.Logger, wrapped)
			return wrapped
		}
		slog.Info("default configuration written", "path", configPath)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the embeddings HTTP server.",
	Long:  `Resolves and loads every --model-repo, spawns its dedicated executor, and serves the OpenAI-compatible embeddings API until SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AppConfig == nil {
			err := util.NewError(util.KindInternal, "configuration not loaded before serve command")
			util.LogError(util.Logger, err)
			return err
		}

		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		modelRepos, _ := cmd.Flags().GetStringArray("model-repo")

		if host == "" {
			host = AppConfig.Server.Host
		}
		if port == 0 {
			port = AppConfig.Server.Port
		}
		if port < 1 || port > 65535 {
			err := util.NewError(util.KindInvalidInput, fmt.Sprintf("port %d out of range 1-65535", port))
			util.LogError(util.Logger, err)
			return err
		}
		if len(modelRepos) == 0 {
			modelRepos = AppConfig.Server.ModelRepo
		}
		if len(modelRepos) == 0 {
			err := util.NewError(util.KindInvalidInput, "at least one --model-repo is required")
			util.LogError(util.Logger, err)
			return err
		}

		if err := embedder.EnsureEnvironment(); err != nil {
			util.LogError(util.Logger, err)
			return err
		}
		embedder.DescribeExecutionProviders()

		slog.Info("loading model repositories", "count", len(modelRepos), "cache_dir", AppConfig.Server.ModelCacheDir)
		state, err := server.NewState(modelRepos, AppConfig.Server.ModelCacheDir)
		if err != nil {
			wrapped := util.WrapError(util.KindModelLoad, err, "failed to build server state")
			util.LogError(util.Logger, wrapped)
			return wrapped
		}

		srv := server.NewServer(host, port, state)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			slog.Info("received shutdown signal", "signal", sig.String())
			cancel()
		}()

		if err := srv.Start(ctx); err != nil {
			wrapped := util.WrapError(util.KindInternal, err, "server failed")
			util.LogError(util.Logger, wrapped)
			return wrapped
		}

		slog.Info("server stopped gracefully")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("embedsrv %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Path to the configuration file")

	initCmd.Flags().StringP("file", "f", config.DefaultConfigPath, "Path to write the configuration file")

	serveCmd.Flags().String("host", "", "Bind address (default from config, fallback 127.0.0.1)")
	serveCmd.Flags().Int("port", 0, "Bind port, 1-65535 (default from config, fallback 3000)")
	serveCmd.Flags().StringArray("model-repo", nil, "repo_id[:revision] to load; repeatable (default from config)")
}

// Execute runs the root command, logging and exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, ok := err.(*util.EmbedError); !ok {
			err = util.WrapError(util.KindInternal, err, "command execution failed")
		}
		util.LogError(util.Logger, err)
		os.Exit(1)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}
	Execute()
}
