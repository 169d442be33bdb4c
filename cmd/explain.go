package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/audiolibrelab/shabadfinder/internal/audio"
	"github.com/audiolibrelab/shabadfinder/internal/play"

	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:   "explain <id>",
	Short: "Generate a spoken explanation of a Shabad",
	Long: `Fetch a Shabad, ask Gemini for a short explanation of its meaning and
optionally synthesize it as speech. Requires generative.api_key (or GEMINI_API_KEY).

Use --out to save the speech as a WAV file and --play to listen to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		playAudio, _ := cmd.Flags().GetBool("play")
		ctx := cmd.Context()
		client := newClient()
		key := cfg.Generative.APIKey

		doc, err := client.FetchHymn(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch Shabad %s: %w", args[0], err)
		}

		text, err := client.GenerateExplanation(ctx, doc.Translation(), key)
		if err != nil {
			return fmt.Errorf("explanation failed: %w", err)
		}
		fmt.Printf("=== EXPLANATION (Shabad %s) ===\n%s\n", doc.ID, text)

		if outPath == "" && !playAudio {
			return nil
		}

		payload, ok, err := client.GenerateVoice(ctx, text, key)
		if err != nil {
			return fmt.Errorf("voice generation failed: %w", err)
		}
		if !ok {
			fmt.Println("No spoken audio was returned")
			return nil
		}
		pcm, err := audio.DecodeBase64Audio(payload)
		if err != nil {
			return err
		}
		wav := audio.WrapPCM16AsWAV(pcm, cfg.Generative.SampleRate)

		if outPath != "" {
			if err := os.WriteFile(outPath, wav, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			info, err := audio.InspectWAV(wav)
			if err != nil {
				return err
			}
			fmt.Printf("Saved %s (%s, %d Hz)\n", outPath, info.Duration.Round(10*time.Millisecond), info.SampleRate)
		}

		if playAudio {
			return play.New().PlayWAV(ctx, wav)
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().StringP("out", "o", "", "write the spoken explanation to a WAV file")
	explainCmd.Flags().Bool("play", false, "play the spoken explanation")
}
