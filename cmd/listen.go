package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/audiolibrelab/shabadfinder/internal/api"
	"github.com/audiolibrelab/shabadfinder/internal/play"
	"github.com/audiolibrelab/shabadfinder/internal/service"

	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Record a snippet and identify the Shabad",
	Long: `Record from the microphone for the configured listen window, identify the
Shabad and print its text. Press Ctrl+C while listening to cancel.

With --simulate a random demo Shabad is used instead of the microphone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		simulate, _ := cmd.Flags().GetBool("simulate")
		explain, _ := cmd.Flags().GetBool("explain")
		playAudio, _ := cmd.Flags().GetBool("play")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl := newController(newClient())
		defer ctrl.Close()
		unsubscribe := ctrl.Subscribe(&statusPrinter{})
		defer unsubscribe()

		kind := service.SourceLive
		if simulate {
			kind = service.SourceSimulated
		}
		if err := ctrl.Start(ctx, kind); err != nil {
			return fmt.Errorf("failed to start listening: %w", err)
		}

		st, err := ctrl.Wait(ctx)
		if err != nil {
			fmt.Println("\nCancelling...")
			if cerr := ctrl.Cancel(); cerr != nil {
				slog.Debug("Cancel failed", "error", cerr)
			}
			return nil
		}

		switch st.View {
		case service.ViewError:
			return fmt.Errorf("identification failed: %s", st.Error)
		case service.ViewResult:
		default:
			return fmt.Errorf("unexpected view %s", st.View)
		}

		printHymn(*st.Hymn)

		if !explain {
			return nil
		}
		if err := ctrl.Explain(ctx); err != nil {
			return fmt.Errorf("explanation failed: %w", err)
		}
		st = ctrl.Snapshot()
		fmt.Printf("\n=== EXPLANATION ===\n%s\n", st.Explanation)

		if !playAudio {
			return nil
		}
		asset, ok := ctrl.Playback("")
		if !ok {
			fmt.Println("No spoken explanation available")
			return nil
		}
		return play.New().PlayWAV(ctx, asset.Data)
	},
}

func init() {
	listenCmd.Flags().Bool("simulate", false, "use a random demo Shabad instead of the microphone")
	listenCmd.Flags().Bool("explain", false, "generate an explanation of the identified Shabad")
	listenCmd.Flags().Bool("play", false, "play the spoken explanation (requires --explain)")
}

// statusPrinter echoes status lines as the controller progresses.
type statusPrinter struct {
	mu   sync.Mutex
	last string
}

func (p *statusPrinter) StateChanged(st service.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Status == p.last {
		return
	}
	p.last = st.Status
	fmt.Printf("[%s] %s\n", st.View, st.Status)
}

func (p *statusPrinter) LevelChanged(level float64) {
	slog.Debug("Input level", "level", fmt.Sprintf("%.0f", level))
}

// printHymn renders a hymn document on stdout
func printHymn(doc api.HymnDocument) {
	fmt.Printf("\n=== SHABAD %s ===\n", doc.ID)
	fmt.Printf("raag: %s\n", orDash(doc.Info.Raag.String()))
	fmt.Printf("writer: %s\n", orDash(doc.Info.Writer.String()))
	fmt.Printf("page: %d\n", doc.Info.PageNo)

	fmt.Printf("\n[Lines]\n")
	for _, line := range doc.Lines {
		fmt.Println(line.Gurmukhi)
		if t := strings.TrimSpace(line.Transliteration); t != "" {
			fmt.Printf("  %s\n", t)
		}
		if t := strings.TrimSpace(line.Translation); t != "" {
			fmt.Printf("  %s\n", t)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
