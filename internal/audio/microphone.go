package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// Format describes the raw PCM stream produced by a Microphone.
// Samples are always signed 16-bit little-endian.
type Format struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

func (f Format) withDefaults() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.InputFormat == "" {
		f.InputFormat = "pulse"
	}
	if f.InputDevice == "" {
		f.InputDevice = "default"
	}
	return f
}

// Stream is a live microphone stream of s16le PCM.
type Stream interface {
	io.Reader
	Stop() error
}

// Microphone acquires capture streams.
type Microphone interface {
	Open(ctx context.Context, format Format) (Stream, error)
}

// startupGrace is how long the capture process must stay alive before the
// device counts as acquired.
const startupGrace = 250 * time.Millisecond

// drainTimeout bounds how long the reader may keep draining after exit.
const drainTimeout = time.Second

// ProcessMicrophone captures audio by running ffmpeg (or a configured
// command) that writes raw PCM to stdout.
type ProcessMicrophone struct {
	command        string
	captureCommand string
}

// NewProcessMicrophone creates a microphone backed by an external process.
// captureCommand, when set, replaces the generated ffmpeg argv entirely and
// is split with shell quoting rules.
func NewProcessMicrophone(command, captureCommand string) *ProcessMicrophone {
	if command == "" {
		command = "ffmpeg"
	}
	return &ProcessMicrophone{command: command, captureCommand: strings.TrimSpace(captureCommand)}
}

// Args returns the argv used to start the capture process.
func (m *ProcessMicrophone) Args(format Format) ([]string, error) {
	if m.captureCommand != "" {
		args, err := shellwords.Parse(m.captureCommand)
		if err != nil {
			return nil, fmt.Errorf("invalid capture command %q: %w", m.captureCommand, err)
		}
		if len(args) == 0 {
			return nil, errors.New("capture command is empty")
		}
		return args, nil
	}

	format = format.withDefaults()
	logLevel := "warning"
	if v := os.Getenv("FFMPEG_LOGLEVEL"); v != "" {
		logLevel = v
	}
	return []string{
		m.command,
		"-nostdin",
		"-hide_banner",
		"-loglevel", logLevel,
		"-f", format.InputFormat,
		"-i", format.InputDevice,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-",
	}, nil
}

// Open starts the capture process. Any failure to get the process running is
// reported as a MicrophoneAccessError.
func (m *ProcessMicrophone) Open(ctx context.Context, format Format) (Stream, error) {
	format = format.withDefaults()

	args, err := m.Args(format)
	if err != nil {
		return nil, &MicrophoneAccessError{Device: format.InputDevice, Err: err}
	}

	slog.Debug("Starting capture process", "command", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// An *os.File stdout is not closed by Wait, so whatever the process
	// flushes while stopping stays readable until EOF.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, &MicrophoneAccessError{Device: format.InputDevice, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		stdout.Close()
		pw.Close()
		return nil, &MicrophoneAccessError{Device: format.InputDevice, Err: fmt.Errorf("failed to start %s: %w", args[0], err)}
	}
	pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		stdout.Close()
		detail := strings.TrimSpace(stderr.String())
		if err == nil {
			err = errors.New("capture process exited before capture started")
		}
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, &MicrophoneAccessError{Device: format.InputDevice, Err: err}
	case <-time.After(startupGrace):
	}

	return &processStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type processStream struct {
	stdout *os.File
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
}

// Read returns PCM until the process closes its end of the pipe. The read
// end is closed on the first error.
func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			err = io.EOF
		}
		s.closeOnce.Do(func() { s.stdout.Close() })
	}
	return n, err
}

// Stop interrupts the capture process, force-killing it if it does not exit
// in time. Output written before exit is left for the reader to drain.
// Safe to call more than once.
func (s *processStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			slog.Debug("Sending SIGINT to capture process")
			if err := s.process.Signal(os.Interrupt); err != nil {
				slog.Debug("Failed to interrupt capture process", "error", err)
			}
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			slog.Warn("Capture process did not exit within timeout, force killing")
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		// A child that inherited the pipe may keep it open after exit.
		if err := s.stdout.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Debug("Capture pipe has no deadline support", "error", err)
			s.closeOnce.Do(func() { s.stdout.Close() })
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeStopErr treats signal exits as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
