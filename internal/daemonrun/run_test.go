package daemonrun

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"lectern/internal/testsupport"
)

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "lecternd-1.log")
	second := filepath.Join(dir, "lecternd-2.log")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte(filepath.Base(path)), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "lecternd.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "lecternd-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lecternd.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid contents %q", data)
	}
}

func TestCollaboratorsCoverEveryStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	collab := collaborators(cfg, nil)
	if collab.Acquirer == nil || collab.Transcriber == nil || collab.NoteWriter == nil || collab.FrameExtractor == nil {
		t.Fatalf("expected every collaborator to be wired: %+v", collab)
	}
}
