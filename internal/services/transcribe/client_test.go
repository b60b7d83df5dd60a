package transcribe_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"lectern/internal/config"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/services/transcribe"
	"lectern/internal/testsupport"
)

type capture struct {
	mu             sync.Mutex
	path           string
	model          string
	responseFormat string
	language       string
	auth           string
	fileName       string
}

func newServer(t *testing.T, status int, payload any, got *capture) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		got.mu.Lock()
		got.path = r.URL.Path
		got.model = r.FormValue("model")
		got.responseFormat = r.FormValue("response_format")
		got.language = r.FormValue("language")
		got.auth = r.Header.Get("Authorization")
		if r.MultipartForm != nil {
			if files := r.MultipartForm.File["file"]; len(files) > 0 {
				got.fileName = files[0].Filename
			}
		}
		got.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func setup(t *testing.T, baseURL string) (*config.Config, queue.Lecture) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.Models["local"] = config.TranscriptionModel{
		BaseURL:  baseURL,
		Model:    "whisper-test",
		APIKey:   "secret",
		Language: "en",
	}
	media := filepath.Join(cfg.Paths.MediaDir, "1", "5.opus")
	testsupport.WriteFile(t, media, 512)
	return cfg, queue.Lecture{ID: 5, CourseID: 1, Title: "Spectral theorem", MediaPath: media}
}

func TestTranscribeParsesVerboseSegments(t *testing.T) {
	got := &capture{}
	server := newServer(t, http.StatusOK, map[string]any{
		"text":     " today we cover eigenvalues ",
		"language": "english",
		"duration": 61.5,
		"segments": []map[string]any{
			{"start": 0.0, "end": 4.2, "text": " today we cover"},
			{"start": 4.2, "end": 7.9, "text": "eigenvalues "},
			{"start": 7.9, "end": 8.0, "text": "   "},
		},
	}, got)
	cfg, lecture := setup(t, server.URL)

	client := transcribe.New(cfg, transcribe.WithMaxRetries(0))
	transcript, err := client.Transcribe(context.Background(), lecture, "local")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if transcript.Text != "today we cover eigenvalues" || transcript.Language != "en" {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
	if len(transcript.Segments) != 2 || transcript.Segments[1].Text != "eigenvalues" {
		t.Fatalf("segments = %+v", transcript.Segments)
	}
	if transcript.DurationSeconds != 61.5 || transcript.Model != "local" {
		t.Fatalf("duration/model = %v/%q", transcript.DurationSeconds, transcript.Model)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	if !strings.HasSuffix(got.path, "/audio/transcriptions") {
		t.Fatalf("path = %q", got.path)
	}
	if got.model != "whisper-test" || got.responseFormat != "verbose_json" || got.language != "en" {
		t.Fatalf("form model=%q format=%q language=%q", got.model, got.responseFormat, got.language)
	}
	if got.auth != "Bearer secret" {
		t.Fatalf("authorization = %q", got.auth)
	}
	if got.fileName != "5.opus" {
		t.Fatalf("uploaded file name = %q", got.fileName)
	}
}

func TestTranscribeJoinsSegmentsWhenTextMissing(t *testing.T) {
	server := newServer(t, http.StatusOK, map[string]any{
		"segments": []map[string]any{
			{"start": 0.0, "end": 2.0, "text": "first"},
			{"start": 2.0, "end": 3.5, "text": "second"},
		},
	}, &capture{})
	cfg, lecture := setup(t, server.URL)

	transcript, err := transcribe.New(cfg, transcribe.WithMaxRetries(0)).Transcribe(context.Background(), lecture, "local")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if transcript.Text != "first second" || transcript.DurationSeconds != 3.5 {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
}

func TestTranscribeClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, services.ErrTransient},
		{"server error", http.StatusBadGateway, services.ErrTransient},
		{"bad key", http.StatusUnauthorized, services.ErrConfiguration},
		{"bad request", http.StatusBadRequest, services.ErrExternalTool},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newServer(t, tc.status, map[string]any{
				"error": map[string]any{"message": "nope"},
			}, &capture{})
			cfg, lecture := setup(t, server.URL)
			_, err := transcribe.New(cfg, transcribe.WithMaxRetries(0)).Transcribe(context.Background(), lecture, "local")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTranscribeRejectsEmptyResult(t *testing.T) {
	server := newServer(t, http.StatusOK, map[string]any{"text": ""}, &capture{})
	cfg, lecture := setup(t, server.URL)
	_, err := transcribe.New(cfg, transcribe.WithMaxRetries(0)).Transcribe(context.Background(), lecture, "local")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestTranscribeValidatesInputs(t *testing.T) {
	cfg, lecture := setup(t, "http://127.0.0.1:1")
	client := transcribe.New(cfg)

	if _, err := client.Transcribe(context.Background(), lecture, "missing"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("unknown selector: expected configuration error, got %v", err)
	}
	lecture.MediaPath = ""
	if _, err := client.Transcribe(context.Background(), lecture, "local"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing media: expected validation error, got %v", err)
	}
}

func TestHealthCheckRequiresKeyForHostedModels(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	cfg := testsupport.NewConfig(t)
	client := transcribe.New(cfg)
	if health := client.HealthCheck(context.Background()); health.Ready {
		t.Fatalf("expected unhealthy without GROQ_API_KEY, got %+v", health)
	}

	t.Setenv("GROQ_API_KEY", "gsk_test")
	if health := client.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy with key, got %+v", health)
	}

	cfg.Transcription.DefaultModel = "tiny"
	if health := client.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("local model should be healthy without key, got %+v", health)
	}
}
