package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Players in order of preference.
var Players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	candidates []string
}

func New() *Player {
	return &Player{candidates: Players}
}

// PlayFile plays a WAV file and blocks until playback ends or ctx is done.
func (p *Player) PlayFile(ctx context.Context, audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	var cmd *exec.Cmd
	switch player {
	case "vlc":
		cmd = exec.CommandContext(ctx, "vlc", "--intf", "dummy", "--play-and-exit", audioFile)
	case "mpv":
		cmd = exec.CommandContext(ctx, "mpv", "--no-video", "--really-quiet", audioFile)
	case "ffplay":
		cmd = exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "error", audioFile)
	case "aplay":
		cmd = exec.CommandContext(ctx, "aplay", "-q", audioFile)
	default:
		return fmt.Errorf("unsupported player: %s", player)
	}

	slog.Debug("Starting playback", "player", player, "file", audioFile)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "file", audioFile)
	return nil
}

// PlayWAV writes an in-memory WAV to a temporary file and plays it.
func (p *Player) PlayWAV(ctx context.Context, wav []byte) error {
	f, err := os.CreateTemp("", "shabadfinder-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return p.PlayFile(ctx, f.Name())
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range p.candidates {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(p.candidates, ", "))
}
