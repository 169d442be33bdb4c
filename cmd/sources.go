package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/shabadfinder/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the PipeWire/JACK output ports that can be captured. With --check the configured input device (a port or a PulseAudio source name) is validated against them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		pw := audio.NewPipeWire()

		if check {
			if err := pw.ValidateSource(cmd.Context(), cfg.Audio.InputDevice); err != nil {
				return fmt.Errorf("input device %q: %w", cfg.Audio.InputDevice, err)
			}
			fmt.Printf("✅ Input device %q is available\n", cfg.Audio.InputDevice)
			return nil
		}

		sources, err := pw.ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		fmt.Printf("🎵 Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")
		fmt.Printf("📋 PIPEWIRE/JACK SOURCES (%d found):\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Set audio.input_device to a source name, or \"default\"\n")
		fmt.Printf("  • audio.capture_command overrides the whole capture command\n\n")
		return nil
	},
}

func init() {
	sourcesCmd.Flags().Bool("check", false, "validate the configured input device")
}
