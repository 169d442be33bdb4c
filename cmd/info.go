package cmd

import (
	"fmt"
	"os"

	"github.com/audiolibrelab/shabadfinder/internal/audio"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <file.wav>",
	Short: "Show the format of a WAV file",
	Long:  `Display sample rate, channels, bit depth and duration of a WAV file, such as one written by 'explain --out'.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		info, err := audio.InspectWAV(data)
		if err != nil {
			return err
		}

		fmt.Printf("=== %s ===\n", args[0])
		fmt.Printf("sample_rate: %d\n", info.SampleRate)
		fmt.Printf("channels: %d\n", info.Channels)
		fmt.Printf("bit_depth: %d\n", info.BitDepth)
		fmt.Printf("data_size: %d\n", info.DataSize)
		fmt.Printf("duration: %s\n", info.Duration)
		return nil
	},
}
