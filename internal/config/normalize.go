package config

import (
	"fmt"
	"os"
	"strings"

	"lectern/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeAcquisition()
	c.normalizeTranscription()
	c.normalizeNotes()
	c.normalizeFrames()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.MediaDir) == "" {
		c.Paths.MediaDir = defaultMediaDir
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.FramesDir) == "" {
		c.Paths.FramesDir = defaultFramesDir
	}
	if c.Paths.FramesDir, err = expandPath(c.Paths.FramesDir); err != nil {
		return fmt.Errorf("paths.frames_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = strings.TrimSpace(os.Getenv("LECTERN_API_TOKEN"))
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.EventBuffer <= 0 {
		c.Workflow.EventBuffer = defaultEventBuffer
	}
	if c.Workflow.SubscriberBuffer <= 0 {
		c.Workflow.SubscriberBuffer = defaultSubscriberBuffer
	}
}

func (c *Config) normalizeAcquisition() {
	c.Acquisition.FFmpegBinary = strings.TrimSpace(c.Acquisition.FFmpegBinary)
	if c.Acquisition.FFmpegBinary == "" {
		c.Acquisition.FFmpegBinary = defaultFFmpegBinary
	}
	c.Acquisition.OpusBitrate = strings.TrimSpace(c.Acquisition.OpusBitrate)
	if c.Acquisition.OpusBitrate == "" {
		c.Acquisition.OpusBitrate = defaultOpusBitrate
	}
	c.Acquisition.UserAgent = strings.TrimSpace(c.Acquisition.UserAgent)
	if c.Acquisition.UserAgent == "" {
		c.Acquisition.UserAgent = defaultUserAgent
	}
	if c.Acquisition.Cookie == "" {
		if value, ok := os.LookupEnv("LECTERN_COOKIE"); ok {
			c.Acquisition.Cookie = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.DefaultModel = strings.ToLower(strings.TrimSpace(c.Transcription.DefaultModel))
	if c.Transcription.DefaultModel == "" {
		c.Transcription.DefaultModel = defaultTranscriptionModel
	}
	if len(c.Transcription.Models) == 0 {
		c.Transcription.Models = defaultTranscriptionModels()
	}
	normalized := make(map[string]TranscriptionModel, len(c.Transcription.Models))
	for name, entry := range c.Transcription.Models {
		entry.BaseURL = strings.TrimRight(strings.TrimSpace(entry.BaseURL), "/")
		entry.Model = strings.TrimSpace(entry.Model)
		entry.APIKey = strings.TrimSpace(entry.APIKey)
		entry.APIKeyEnv = strings.TrimSpace(entry.APIKeyEnv)
		entry.Language = strings.TrimSpace(entry.Language)
		if code := language.Normalize(entry.Language); code != "" {
			entry.Language = code
		}
		normalized[strings.ToLower(strings.TrimSpace(name))] = entry
	}
	c.Transcription.Models = normalized
}

func (c *Config) normalizeNotes() {
	c.Notes.DefaultModel = strings.TrimSpace(c.Notes.DefaultModel)
	if c.Notes.DefaultModel == "" {
		c.Notes.DefaultModel = defaultNotesModel
	}
	c.Notes.BaseURL = strings.TrimRight(strings.TrimSpace(c.Notes.BaseURL), "/")
	if c.Notes.BaseURL == "" {
		c.Notes.BaseURL = defaultNotesBaseURL
	}
	c.Notes.APIKey = strings.TrimSpace(c.Notes.APIKey)
	if c.Notes.APIKey == "" {
		if value, ok := os.LookupEnv("LECTERN_LLM_API_KEY"); ok {
			c.Notes.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Notes.APIKey = strings.TrimSpace(value)
		}
	}
	c.Notes.Referer = strings.TrimSpace(c.Notes.Referer)
	c.Notes.Title = strings.TrimSpace(c.Notes.Title)
}

func (c *Config) normalizeFrames() {
	c.Frames.FFmpegBinary = strings.TrimSpace(c.Frames.FFmpegBinary)
	if c.Frames.FFmpegBinary == "" {
		c.Frames.FFmpegBinary = c.Acquisition.FFmpegBinary
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
