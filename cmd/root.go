package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/shabadfinder/internal/api"
	"github.com/audiolibrelab/shabadfinder/internal/audio"
	"github.com/audiolibrelab/shabadfinder/internal/config"
	"github.com/audiolibrelab/shabadfinder/internal/service"
	"github.com/audiolibrelab/shabadfinder/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	cfg           *config.Config
	cfgFile       string
	verboseLevel  int
	metrics       *telemetry.Metrics
	traceShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "shabadfinder",
	Short: "Identify Gurbani hymns from a short audio recording",
	Long: `shabadfinder records a short snippet from the microphone, sends it to a
recognition service to identify the Shabad, fetches its text and metadata from
the GurbaniNow API and can generate a spoken explanation with Gemini.

Run 'shabadfinder listen --simulate' to try it without a microphone.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// config edit must work before the file exists or while it is invalid
		if cmd == configEditCmd {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		metrics = telemetry.NewMetrics()
		traceShutdown, err = telemetry.SetupTracing(cmd.Context(), cfg.Telemetry.Trace, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if traceShutdown == nil {
			return nil
		}
		return traceShutdown(context.Background())
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/shabadfinder.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=capture process output")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(shabadCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(testAPIsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))

	if level >= 2 {
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
}

func newClient() *api.Client {
	return api.New(cfg, metrics)
}

// newController wires the api client and the configured microphone.
func newController(client *api.Client) *service.Controller {
	mic := audio.NewProcessMicrophone(cfg.Audio.Command, cfg.Audio.CaptureCommand)
	return service.New(cfg, client, mic, metrics)
}
