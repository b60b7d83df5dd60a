package preflight

import (
	"context"
	"strings"

	"lectern/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local preflight checks for cfg. No network calls are
// made; see Probe for endpoint reachability.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Media directory", cfg.Paths.MediaDir),
		CheckDirectoryAccess("Frames directory", cfg.Paths.FramesDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	results = append(results, CheckTranscriptionCredentials(cfg))
	results = append(results, CheckCredential("Notes API key", cfg.Notes.APIKey, "set notes.api_key or LECTERN_LLM_API_KEY"))
	return results
}

// Probe calls CheckEndpoint for the default transcription model and the notes
// API.
func Probe(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result
	if model, err := cfg.TranscriptionModel(""); err == nil {
		results = append(results, CheckEndpoint(ctx, "Transcription API ("+model.Selector+")", model.BaseURL, model.APIKey))
	}
	results = append(results, CheckEndpoint(ctx, "Notes API", cfg.Notes.BaseURL, cfg.Notes.APIKey))
	return results
}

// CheckTranscriptionCredentials verifies that the default transcription
// model resolves. Local servers without an api_key_env need no key.
func CheckTranscriptionCredentials(cfg *config.Config) Result {
	const name = "Transcription model"
	model, err := cfg.TranscriptionModel("")
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	entry := cfg.Transcription.Models[model.Selector]
	if model.APIKey == "" && strings.TrimSpace(entry.APIKeyEnv) != "" {
		return Result{Name: name, Detail: model.Selector + ": " + entry.APIKeyEnv + " is not set"}
	}
	return Result{Name: name, Passed: true, Detail: model.Selector + " (" + model.Model + ")"}
}

// CheckCredential reports whether value is non-empty.
func CheckCredential(name, value, hint string) Result {
	if strings.TrimSpace(value) == "" {
		return Result{Name: name, Detail: "missing (" + hint + ")"}
	}
	return Result{Name: name, Passed: true, Detail: "present"}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
