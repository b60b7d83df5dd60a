package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/daemon"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/testsupport"
	"lectern/internal/workflow"
)

type fakeAcquirer struct{ dir string }

func (f fakeAcquirer) Acquire(_ context.Context, lecture queue.Lecture, report workflow.ProgressFunc) (workflow.AcquireResult, error) {
	path := filepath.Join(f.dir, fmt.Sprintf("lecture-%d.opus", lecture.ID))
	if err := os.WriteFile(path, []byte("opus"), 0o644); err != nil {
		return workflow.AcquireResult{}, err
	}
	report(workflow.ProgressUpdate{Phase: "download", Done: 4, Total: 4})
	return workflow.AcquireResult{MediaPath: path, DurationSeconds: 95}, nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(context.Context, queue.Lecture, string) (queue.Transcript, error) {
	return queue.Transcript{
		Text:     "welcome to the lecture",
		Language: "en",
		Segments: []queue.Segment{
			{Start: 0, End: 2, Text: "welcome"},
			{Start: 65, End: 68, Text: "to the lecture"},
		},
	}, nil
}

type fakeNoteWriter struct{}

func (fakeNoteWriter) WriteNotes(context.Context, queue.Lecture, queue.Transcript, string) (queue.Notes, error) {
	return queue.Notes{
		Markdown:   "# Overview\n\nIntroductions.\n",
		KeyMoments: []queue.KeyMoment{{Timestamp: 65, Title: "Course outline"}},
	}, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	address    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithRunFrames(false))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "lectern.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, workflow.Collaborators{
		Acquirer:    fakeAcquirer{dir: cfg.Paths.MediaDir},
		Transcriber: fakeTranscriber{},
		NoteWriter:  fakeNoteWriter{},
	}, logger)

	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		cancel()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		address:    d.Address(),
		configPath: configPath,
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, args, e.address, e.configPath)
	return out, err
}

func runCLI(t *testing.T, args []string, api, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if api != "" {
		flags = append(flags, "--api", api)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\nmedia_dir = %q\nframes_dir = %q\napi_bind = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.MediaDir,
		cfg.Paths.FramesDir,
		cfg.Paths.APIBind,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
