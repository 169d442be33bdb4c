package cmd

import (
	"fmt"

	"github.com/audiolibrelab/shabadfinder/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <file.wav>",
	Short: "Play an audio file",
	Long:  `Play an audio file, such as a saved explanation, with the first available player (vlc, mpv, ffplay, aplay).`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Playing: %s\n", args[0])
		if err := play.New().PlayFile(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
