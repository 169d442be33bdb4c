package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (SHABADFINDER_CONTENT_BASE_URL, ...)
const EnvPrefix = "SHABADFINDER"

type Config struct {
	Content     ContentConfig     `mapstructure:"content" yaml:"content"`
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	Generative  GenerativeConfig  `mapstructure:"generative" yaml:"generative"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Audio       AudioConfig       `mapstructure:"audio" yaml:"audio"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

type ContentConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type RecognitionConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type GenerativeConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	TextModel  string `mapstructure:"text_model" yaml:"text_model"`
	VoiceModel string `mapstructure:"voice_model" yaml:"voice_model"`
	VoiceName  string `mapstructure:"voice_name" yaml:"voice_name"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"` // PCM16 rate of returned speech
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AudioConfig struct {
	Command        string `mapstructure:"command" yaml:"command"`
	InputFormat    string `mapstructure:"input_format" yaml:"input_format"`
	InputDevice    string `mapstructure:"input_device" yaml:"input_device"`
	CaptureCommand string `mapstructure:"capture_command" yaml:"capture_command"` // full argv override, shell words
	SampleRate     int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels       int    `mapstructure:"channels" yaml:"channels"`
	ChunkSize      int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

type SessionConfig struct {
	ListenWindow              time.Duration `mapstructure:"listen_window" yaml:"listen_window"`
	ProcessingDelay           time.Duration `mapstructure:"processing_delay" yaml:"processing_delay"`
	SimulatedExplanationDelay time.Duration `mapstructure:"simulated_explanation_delay" yaml:"simulated_explanation_delay"`
	DemoShabads               []DemoShabad  `mapstructure:"demo_shabads" yaml:"demo_shabads"`
}

// DemoShabad is one entry of the simulation pool.
type DemoShabad struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type TelemetryConfig struct {
	Trace bool `mapstructure:"trace" yaml:"trace"`
}

var defaultDemoShabads = []DemoShabad{
	{ID: "3589", Name: "Thir Ghar Baiso", Description: "Stabilize your mind within"},
	{ID: "1", Name: "Mool Mantar", Description: "The Root Mantra"},
	{ID: "1365", Name: "Tati Vao Na Lagai", Description: "The hot wind does not touch me"},
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	pool := make([]DemoShabad, len(defaultDemoShabads))
	copy(pool, defaultDemoShabads)

	return &Config{
		Content:     ContentConfig{BaseURL: "https://api.gurbaninow.com/v2"},
		Recognition: RecognitionConfig{BaseURL: "http://localhost:5000"},
		Generative: GenerativeConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			TextModel:  "gemini-2.5-flash-preview-09-2025",
			VoiceModel: "gemini-2.5-flash-preview-tts",
			VoiceName:  "Kore",
			SampleRate: 24000,
		},
		HTTP: HTTPConfig{Timeout: 20 * time.Second},
		Audio: AudioConfig{
			Command:     "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			SampleRate:  16000,
			Channels:    1,
			ChunkSize:   4096,
		},
		Session: SessionConfig{
			ListenWindow:              3 * time.Second,
			SimulatedExplanationDelay: 1500 * time.Millisecond,
			DemoShabads:               pool,
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// DefaultPath is where the config file is looked up when --config is not given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "shabadfinder.yaml")
}

// Load resolves configuration from defaults, a YAML file and the
// environment. With an empty configFile the file at DefaultPath is read if it
// exists; the app must start without one. An explicit configFile must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names from the browser build
	aliases := map[string]string{
		"content.base_url":     "GURBANI_API_URL",
		"recognition.base_url": "RECOGNITION_API_URL",
		"generative.api_key":   "GEMINI_API_KEY",
	}
	for key, alias := range aliases {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultPath()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if explicit || !missing {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
			slog.Debug("No config file, using defaults", "path", configFile)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	cfg.Content.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Content.BaseURL), "/")
	cfg.Recognition.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Recognition.BaseURL), "/")
	cfg.Generative.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Generative.BaseURL), "/")
	cfg.Generative.APIKey = strings.TrimSpace(cfg.Generative.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("content.base_url", d.Content.BaseURL)
	v.SetDefault("recognition.base_url", d.Recognition.BaseURL)
	v.SetDefault("generative.api_key", d.Generative.APIKey)
	v.SetDefault("generative.base_url", d.Generative.BaseURL)
	v.SetDefault("generative.text_model", d.Generative.TextModel)
	v.SetDefault("generative.voice_model", d.Generative.VoiceModel)
	v.SetDefault("generative.voice_name", d.Generative.VoiceName)
	v.SetDefault("generative.sample_rate", d.Generative.SampleRate)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("audio.command", d.Audio.Command)
	v.SetDefault("audio.input_format", d.Audio.InputFormat)
	v.SetDefault("audio.input_device", d.Audio.InputDevice)
	v.SetDefault("audio.capture_command", d.Audio.CaptureCommand)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.chunk_size", d.Audio.ChunkSize)
	v.SetDefault("session.listen_window", d.Session.ListenWindow)
	v.SetDefault("session.processing_delay", d.Session.ProcessingDelay)
	v.SetDefault("session.simulated_explanation_delay", d.Session.SimulatedExplanationDelay)
	v.SetDefault("session.demo_shabads", demoShabadMaps(d.Session.DemoShabads))
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("telemetry.trace", d.Telemetry.Trace)
}

func demoShabadMaps(pool []DemoShabad) []map[string]any {
	out := make([]map[string]any, 0, len(pool))
	for _, s := range pool {
		out = append(out, map[string]any{"id": s.ID, "name": s.Name, "description": s.Description})
	}
	return out
}

// Validate checks the resolved configuration for values the app cannot run with.
func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{
		"content.base_url":     c.Content.BaseURL,
		"recognition.base_url": c.Recognition.BaseURL,
		"generative.base_url":  c.Generative.BaseURL,
	} {
		if err := validateBaseURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Generative.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("generative.sample_rate must be positive, got %d", c.Generative.SampleRate))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, fmt.Errorf("http.timeout cannot be negative"))
	}
	if c.Session.ListenWindow <= 0 {
		errs = append(errs, fmt.Errorf("session.listen_window must be positive"))
	}
	if len(c.Session.DemoShabads) == 0 {
		errs = append(errs, fmt.Errorf("session.demo_shabads cannot be empty"))
	}
	for i, s := range c.Session.DemoShabads {
		if strings.TrimSpace(s.ID) == "" {
			errs = append(errs, fmt.Errorf("session.demo_shabads[%d]: 'id' is required", i))
		}
	}

	return errors.Join(errs...)
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// DemoIDs returns the identifiers of the simulation pool.
func (c *Config) DemoIDs() []string {
	ids := make([]string, 0, len(c.Session.DemoShabads))
	for _, s := range c.Session.DemoShabads {
		ids = append(ids, s.ID)
	}
	return ids
}
