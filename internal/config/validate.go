package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"lectern/internal/language"
)

const maxWorkers = 64

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateAcquisition(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateNotes(); err != nil {
		return err
	}
	if err := c.validateFrames(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q is not a host:port address: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.Workers > maxWorkers {
		return fmt.Errorf("workflow.workers must be at most %d", maxWorkers)
	}
	if c.Workflow.ProgressRate <= 0 {
		return errors.New("workflow.progress_rate must be positive (events per second)")
	}
	return nil
}

func (c *Config) validateAcquisition() error {
	if err := ensurePositiveMap(map[string]int{
		"acquisition.download_timeout_seconds": c.Acquisition.DownloadTimeoutSeconds,
		"acquisition.retry_attempts":           c.Acquisition.RetryAttempts,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if len(c.Transcription.Models) == 0 {
		return errors.New("transcription.models must define at least one model selector")
	}
	if _, ok := c.Transcription.Models[c.Transcription.DefaultModel]; !ok {
		return fmt.Errorf("transcription.default_model %q is not defined in transcription.models (have %s)",
			c.Transcription.DefaultModel, strings.Join(c.sortedSelectors(), ", "))
	}
	for _, name := range c.sortedSelectors() {
		entry := c.Transcription.Models[name]
		if entry.BaseURL == "" {
			return fmt.Errorf("transcription.models.%s.base_url must be set", name)
		}
		if entry.Model == "" {
			return fmt.Errorf("transcription.models.%s.model must be set", name)
		}
		if entry.Language != "" && language.Normalize(entry.Language) == "" {
			return fmt.Errorf("transcription.models.%s.language %q is not a recognized language", name, entry.Language)
		}
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		return errors.New("transcription.timeout_seconds must be positive")
	}
	if c.Transcription.MaxRetries < 0 {
		return errors.New("transcription.max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateNotes() error {
	if c.Notes.TimeoutSeconds <= 0 {
		return errors.New("notes.timeout_seconds must be positive")
	}
	if c.Notes.MaxRetries < 0 {
		return errors.New("notes.max_retries must be >= 0")
	}
	if c.Notes.MaxTranscriptChars <= 0 {
		return errors.New("notes.max_transcript_chars must be positive")
	}
	return nil
}

func (c *Config) validateFrames() error {
	if c.Frames.MaxFrames < 0 {
		return errors.New("frames.max_frames must be >= 0")
	}
	if c.Frames.Width <= 0 {
		return errors.New("frames.width must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
}

func (c *Config) sortedSelectors() []string {
	names := c.TranscriptionSelectors()
	sort.Strings(names)
	return names
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
