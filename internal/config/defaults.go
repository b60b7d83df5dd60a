package config

const (
	defaultConfigPath              = "~/.config/lectern/config.toml"
	defaultDataDir                 = "~/.local/share/lectern"
	defaultLogDir                  = "~/.local/share/lectern/logs"
	defaultMediaDir                = "~/.local/share/lectern/media"
	defaultFramesDir               = "~/.local/share/lectern/frames"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultWorkers                 = 3
	defaultProgressRate            = 4
	defaultEventBuffer             = 1024
	defaultSubscriberBuffer        = 256
	defaultDownloadTimeoutSeconds  = 1800
	defaultFFmpegBinary            = "ffmpeg"
	defaultOpusBitrate             = "32k"
	defaultUserAgent               = "Lectern/dev"
	defaultRetryAttempts           = 3
	defaultTranscriptionModel      = "groq"
	defaultTranscriptionTimeout    = 900
	defaultTranscriptionRetries    = 2
	defaultNotesModel              = "openrouter/meta-llama/llama-3.3-70b-instruct"
	defaultNotesBaseURL            = "https://openrouter.ai/api/v1"
	defaultNotesReferer            = "https://github.com/lectern/lectern"
	defaultNotesTitle              = "Lectern Notes"
	defaultNotesTimeoutSeconds     = 300
	defaultNotesMaxRetries         = 2
	defaultNotesMaxTranscriptChars = 120000
	defaultFramesMax               = 24
	defaultFramesWidth             = 1280
	defaultNtfyTimeoutSeconds      = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultGroqBaseURL             = "https://api.groq.com/openai/v1"
	defaultOpenAIBaseURL           = "https://api.openai.com/v1"
	defaultLocalWhisperBaseURL     = "http://127.0.0.1:8000/v1"
)

func defaultTranscriptionModels() map[string]TranscriptionModel {
	models := make(map[string]TranscriptionModel, 3)
	models["groq"] = TranscriptionModel{
		BaseURL:   defaultGroqBaseURL,
		Model:     "whisper-large-v3-turbo",
		APIKeyEnv: "GROQ_API_KEY",
	}
	models["openai"] = TranscriptionModel{
		BaseURL:   defaultOpenAIBaseURL,
		Model:     "whisper-1",
		APIKeyEnv: "OPENAI_API_KEY",
	}
	models["tiny"] = TranscriptionModel{
		BaseURL: defaultLocalWhisperBaseURL,
		Model:   "Systran/faster-whisper-tiny",
	}
	return models
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			MediaDir:  defaultMediaDir,
			FramesDir: defaultFramesDir,
			APIBind:   defaultAPIBind,
		},
		Workflow: Workflow{
			Workers:          defaultWorkers,
			ProgressRate:     defaultProgressRate,
			EventBuffer:      defaultEventBuffer,
			SubscriberBuffer: defaultSubscriberBuffer,
			RecoverOnStart:   true,
			RunFrames:        true,
		},
		Acquisition: Acquisition{
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
			FFmpegBinary:           defaultFFmpegBinary,
			OpusBitrate:            defaultOpusBitrate,
			UserAgent:              defaultUserAgent,
			RetryAttempts:          defaultRetryAttempts,
		},
		Transcription: Transcription{
			DefaultModel:   defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscriptionTimeout,
			MaxRetries:     defaultTranscriptionRetries,
			Models:         defaultTranscriptionModels(),
		},
		Notes: Notes{
			DefaultModel:       defaultNotesModel,
			BaseURL:            defaultNotesBaseURL,
			Referer:            defaultNotesReferer,
			Title:              defaultNotesTitle,
			TimeoutSeconds:     defaultNotesTimeoutSeconds,
			MaxRetries:         defaultNotesMaxRetries,
			MaxTranscriptChars: defaultNotesMaxTranscriptChars,
		},
		Frames: Frames{
			FFmpegBinary: defaultFFmpegBinary,
			MaxFrames:    defaultFramesMax,
			Width:        defaultFramesWidth,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			OnComplete:            true,
			OnError:               true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
