package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire lists capture sources through pw-link.
type PipeWire struct {
	command string
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{command: "pw-link"}
}

// ListSources returns every output port (capture source) in the graph.
func (pw *PipeWire) ListSources(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, pw.command, "-o")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire sources: %w", err)
	}
	return parsePorts(string(output)), nil
}

// ValidateSource checks that a configured input device is present in the
// graph. An exact port must exist exactly once.
func (pw *PipeWire) ValidateSource(ctx context.Context, name string) error {
	if name == "" || name == "default" {
		return nil
	}
	sources, err := pw.ListSources(ctx)
	if err != nil {
		return err
	}
	return validateSourceIn(name, sources)
}

// parsePorts extracts port names from pw-link output, skipping headers and
// link lines.
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasSuffix(trimmed, "ports:") {
			continue
		}
		if strings.HasPrefix(trimmed, "|->") || strings.HasPrefix(trimmed, "|<-") {
			continue
		}
		ports = append(ports, trimmed)
	}
	return ports
}

// validateSourceIn accepts either an exact port ("node:port") or a
// PulseAudio source name, which is a node name, optionally with ".monitor".
func validateSourceIn(name string, sources []string) error {
	count := 0
	for _, source := range sources {
		if source == name {
			count++
		}
	}
	switch {
	case count > 1:
		slog.Debug("Duplicate capture source", "source", name, "count", count)
		return fmt.Errorf("duplicate sources detected for '%s' (%d). Please close conflicting applications", name, count)
	case count == 1:
		return nil
	}

	node, monitor := strings.CutSuffix(name, ".monitor")
	for _, source := range sources {
		i := strings.LastIndex(source, ":")
		if i < 0 || source[:i] != node {
			continue
		}
		if !monitor || strings.HasPrefix(source[i+1:], "monitor_") {
			return nil
		}
	}
	return fmt.Errorf("source not found: %s", name)
}
