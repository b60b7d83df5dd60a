package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern.toml")
	if err := os.WriteFile(path, []byte("[workflow]\nworkers = -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected load config error, got %v", err)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "lectern.toml")
	content := "[paths]\n" +
		"data_dir = \"" + filepath.Join(base, "data") + "\"\n" +
		"log_dir = \"" + filepath.Join(base, "logs") + "\"\n" +
		"media_dir = \"" + filepath.Join(base, "media") + "\"\n" +
		"frames_dir = \"" + filepath.Join(base, "frames") + "\"\n" +
		"api_bind = \"127.0.0.1:0\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, path); err != nil {
		t.Fatalf("run after cancel: %v", err)
	}
}
