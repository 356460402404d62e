// Package cmd implements the CLI commands for mkv-transcoder.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/internal/version"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:     "mkv-transcoder",
	Short:   "Batch transcode H.264 mkv files to HEVC with NVENC",
	Version: version.Version,
	Long: `mkv-transcoder walks a directory tree and re-encodes every .mkv file whose
first video stream is H.264 into HEVC using an NVIDIA GPU through ffmpeg.

Each file is copied to a staging directory, transcoded there and copied back
over the original only when ffmpeg succeeds.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./transcoder.yaml or $HOME/.config/mkv-transcoder/transcoder.yaml)")
	flags.StringP("source", "s", "", "directory tree to transcode")
	flags.StringP("staging", "t", "", "scratch directory for staged copies")
	flags.BoolP("reverse", "r", false, "process files in reverse traversal order")
	flags.IntP("workers", "w", 1, "number of files transcoded concurrently")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "console log format (text, json)")

	mustBindPFlag("source_dir", flags.Lookup("source"))
	mustBindPFlag("staging_dir", flags.Lookup("staging"))
	mustBindPFlag("reverse", flags.Lookup("reverse"))
	mustBindPFlag("workers", flags.Lookup("workers"))
	mustBindPFlag("logging.level", flags.Lookup("log-level"))
	mustBindPFlag("logging.format", flags.Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("transcoder")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mkv-transcoder")
	}
	config.BindEnv(v)

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cobra.CheckErr(fmt.Errorf("reading config file: %w", err))
		}
	}
}

// loadConfig resolves the effective configuration: flag > env > file > default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	return cfg, nil
}

// setupLogging builds the process logger and installs it as the slog default.
func setupLogging(cfg *config.Config) (*observability.Logger, error) {
	logger, err := observability.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.Logger)
	return logger, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM. A running
// ffmpeg is killed and the current job still cleans up its staged files.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(stop)
		select {
		case sig := <-stop:
			slog.Warn("shutdown signal received, stopping", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
