package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	MediaDir  string `toml:"media_dir"`
	FramesDir string `toml:"frames_dir"`
	APIBind   string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on every API request.
	APIToken string `toml:"api_token"`
}

// Workflow contains worker pool and event stream tuning.
type Workflow struct {
	Workers          int     `toml:"workers"`
	ProgressRate     float64 `toml:"progress_rate"`
	EventBuffer      int     `toml:"event_buffer"`
	SubscriberBuffer int     `toml:"subscriber_buffer"`
	RecoverOnStart   bool    `toml:"recover_on_start"`
	RunFrames        bool    `toml:"run_frames"`
}

// Acquisition contains settings for fetching and converting lecture media.
type Acquisition struct {
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
	FFmpegBinary           string `toml:"ffmpeg_binary"`
	OpusBitrate            string `toml:"opus_bitrate"`
	UserAgent              string `toml:"user_agent"`
	Cookie                 string `toml:"cookie"`
	RetryAttempts          int    `toml:"retry_attempts"`
}

// TranscriptionModel describes one selectable speech-to-text backend. Every
// backend speaks the OpenAI-compatible audio transcription API.
type TranscriptionModel struct {
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	APIKeyEnv string `toml:"api_key_env"`
	Language  string `toml:"language"`
}

// Transcription contains the model selector table and request limits.
type Transcription struct {
	DefaultModel   string                        `toml:"default_model"`
	TimeoutSeconds int                           `toml:"timeout_seconds"`
	MaxRetries     int                           `toml:"max_retries"`
	Models         map[string]TranscriptionModel `toml:"models"`
}

// Notes contains the chat-completions endpoint used for note generation.
type Notes struct {
	DefaultModel       string `toml:"default_model"`
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	Referer            string `toml:"referer"`
	Title              string `toml:"title"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxRetries         int    `toml:"max_retries"`
	MaxTranscriptChars int    `toml:"max_transcript_chars"`
}

// Frames contains still-frame extraction settings.
type Frames struct {
	FFmpegBinary string `toml:"ffmpeg_binary"`
	MaxFrames    int    `toml:"max_frames"`
	Width        int    `toml:"width"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures ntfy delivery of pipeline milestones. An empty topic
// disables notifications.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	OnComplete            bool   `toml:"on_complete"`
	OnError               bool   `toml:"on_error"`
}

// Config encapsulates all configuration values for Lectern.
//
// Configuration sections by subsystem:
//   - Paths: data directories and API bind address
//   - Workflow: worker pool size and event stream buffers
//   - Acquisition: media download and opus conversion
//   - Transcription: speech-to-text model selectors
//   - Notes: LLM note generation
//   - Frames: still extraction at note timestamps
//   - Notifications: ntfy alerts for finished lectures and failures
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Acquisition   Acquisition   `toml:"acquisition"`
	Transcription Transcription `toml:"transcription"`
	Notes         Notes         `toml:"notes"`
	Frames        Frames        `toml:"frames"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lectern.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.MediaDir, c.Paths.FramesDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing the lecture store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "lectern.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "lecternd.lock")
}

// DownloadTimeout returns the per-request acquisition timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Acquisition.DownloadTimeoutSeconds) * time.Second
}

// ResolvedTranscriptionModel is a selector with its credentials filled in.
type ResolvedTranscriptionModel struct {
	Selector string
	BaseURL  string
	Model    string
	APIKey   string
	Language string
}

// TranscriptionModel resolves a selector against the configured model table.
// An empty selector resolves the default model.
func (c *Config) TranscriptionModel(selector string) (ResolvedTranscriptionModel, error) {
	selector = strings.ToLower(strings.TrimSpace(selector))
	if selector == "" {
		selector = c.Transcription.DefaultModel
	}
	entry, ok := c.Transcription.Models[selector]
	if !ok {
		return ResolvedTranscriptionModel{}, fmt.Errorf("transcription model %q is not configured", selector)
	}
	key := strings.TrimSpace(entry.APIKey)
	if key == "" && strings.TrimSpace(entry.APIKeyEnv) != "" {
		key = strings.TrimSpace(os.Getenv(entry.APIKeyEnv))
	}
	return ResolvedTranscriptionModel{
		Selector: selector,
		BaseURL:  entry.BaseURL,
		Model:    entry.Model,
		APIKey:   key,
		Language: entry.Language,
	}, nil
}

// TranscriptionSelectors lists the configured transcription selectors.
func (c *Config) TranscriptionSelectors() []string {
	out := make([]string, 0, len(c.Transcription.Models))
	for name := range c.Transcription.Models {
		out = append(out, name)
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
