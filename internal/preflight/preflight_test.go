package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lectern/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		baseURL string
		key     string
		pass    bool
		detail  string
	}{
		{name: "ok", baseURL: srv.URL + "/v1/", key: "good-key", pass: true, detail: "reachable"},
		{name: "bad key", baseURL: srv.URL + "/v1", key: "bad-key", detail: "auth failed"},
		{name: "wrong path", baseURL: srv.URL, key: "good-key", detail: "404"},
		{name: "missing url", baseURL: "", key: "good-key", detail: "missing base url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckEndpoint(context.Background(), "API", tt.baseURL, tt.key)
			if result.Passed != tt.pass {
				t.Fatalf("passed = %v, want %v (%s)", result.Passed, tt.pass, result.Detail)
			}
			if !strings.Contains(result.Detail, tt.detail) {
				t.Fatalf("detail %q does not contain %q", result.Detail, tt.detail)
			}
		})
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsMissingCredentials(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = base
	cfg.Paths.MediaDir = base
	cfg.Paths.FramesDir = base
	cfg.Paths.LogDir = filepath.Join(base, "missing")
	cfg.Transcription.DefaultModel = "groq"
	cfg.Notes.APIKey = ""

	results := RunAll(context.Background(), &cfg)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	failed := Failed(results)
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	want := "Log directory,Transcription model,Notes API key"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("failed checks = %q, want %q", got, want)
	}
}

func TestCheckTranscriptionCredentials_LocalModel(t *testing.T) {
	cfg := config.Default()
	cfg.Transcription.DefaultModel = "tiny"
	result := CheckTranscriptionCredentials(&cfg)
	if !result.Passed {
		t.Fatalf("local model should not need a key: %s", result.Detail)
	}
}
