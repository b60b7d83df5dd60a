package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/testsupport"
	"lectern/internal/workflow"
)

type noMediaAcquirer struct{}

func (noMediaAcquirer) Acquire(context.Context, queue.Lecture, workflow.ProgressFunc) (workflow.AcquireResult, error) {
	return workflow.AcquireResult{}, services.Wrap(services.ErrNoMedia, "acquisition", "probe source", "nothing recorded", nil)
}

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *queue.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, workflow.Collaborators{Acquirer: noMediaAcquirer{}}, logger)
	d, err := New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, store
}

func startTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *queue.Store, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	d, store := newTestDaemon(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		cancel()
	})
	return d, store, "http://" + d.Address()
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newTestDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if strings.HasSuffix(status.APIBind, ":0") {
		t.Fatalf("expected resolved api address, got %q", status.APIBind)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newTestDaemon(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer first.Stop()

	second, _ := newTestDaemon(t, cfg)
	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestAPIServerCourseAndLectureLifecycle(t *testing.T) {
	_, _, base := startTestDaemon(t)

	var course api.Course
	if code := doJSON(t, http.MethodPost, base+"/api/courses", api.CreateCourseRequest{Title: "Compilers"}, &course); code != http.StatusCreated {
		t.Fatalf("create course: status %d", code)
	}
	if course.ID == 0 || course.Title != "Compilers" {
		t.Fatalf("unexpected course %+v", course)
	}

	var lecture api.Lecture
	url := fmt.Sprintf("%s/api/courses/%d/lectures", base, course.ID)
	if code := doJSON(t, http.MethodPost, url, api.AddLectureRequest{Title: "Parsing", SourceURL: "https://lectures.example/1.mp4", Position: 1}, &lecture); code != http.StatusCreated {
		t.Fatalf("add lecture: status %d", code)
	}
	if len(lecture.Stages) != len(stage.All()) {
		t.Fatalf("expected %d stages, got %d", len(stage.All()), len(lecture.Stages))
	}
	for _, view := range lecture.Stages {
		if view.Status != string(stage.StatusPending) {
			t.Fatalf("expected pending %s, got %s", view.Name, view.Status)
		}
	}

	var detail api.Course
	if code := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/courses/%d", base, course.ID), nil, &detail); code != http.StatusOK {
		t.Fatalf("get course: status %d", code)
	}
	if len(detail.Lectures) != 1 || detail.Lectures[0].ID != lecture.ID {
		t.Fatalf("unexpected course lectures %+v", detail.Lectures)
	}

	var list api.CourseListResponse
	if code := doJSON(t, http.MethodGet, base+"/api/courses", nil, &list); code != http.StatusOK || len(list.Courses) != 1 {
		t.Fatalf("list courses: status %d, %d courses", code, len(list.Courses))
	}

	lectureURL := fmt.Sprintf("%s/api/lectures/%d", base, lecture.ID)
	if code := doJSON(t, http.MethodGet, lectureURL+"/transcript", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing transcript, got %d", code)
	}
	if code := doJSON(t, http.MethodDelete, lectureURL, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete lecture: status %d", code)
	}
	if code := doJSON(t, http.MethodGet, lectureURL, nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func fetch(t *testing.T, url, rangeHeader string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, body.String()
}

func TestAPIServerServesMediaAndFrames(t *testing.T) {
	_, store, base := startTestDaemon(t)
	_, lectures := testsupport.SeedCourse(t, store, "optics", 2)
	ctx := context.Background()
	dir := t.TempDir()

	audio := filepath.Join(dir, "lecture.opus")
	if err := os.WriteFile(audio, []byte("OggSaudio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := store.SetMedia(ctx, lectures[0].ID, audio, 60); err != nil {
		t.Fatalf("SetMedia: %v", err)
	}
	image := filepath.Join(dir, "000030.jpg")
	if err := os.WriteFile(image, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := store.SaveFrames(ctx, lectures[0].ID, queue.Frames{Images: []queue.Frame{{Timestamp: 30, Path: image}}}); err != nil {
		t.Fatalf("SaveFrames: %v", err)
	}

	first := fmt.Sprintf("%s/api/lectures/%d", base, lectures[0].ID)
	second := fmt.Sprintf("%s/api/lectures/%d", base, lectures[1].ID)

	if code, body := fetch(t, first+"/audio", ""); code != http.StatusOK || body != "OggSaudio" {
		t.Fatalf("audio: status %d body %q", code, body)
	}
	if code, body := fetch(t, first+"/audio", "bytes=0-3"); code != http.StatusPartialContent || body != "OggS" {
		t.Fatalf("ranged audio: status %d body %q", code, body)
	}
	if code, body := fetch(t, first+"/frames/30.2", ""); code != http.StatusOK || body != "jpeg-bytes" {
		t.Fatalf("frame: status %d body %q", code, body)
	}

	cases := []struct {
		name string
		url  string
		want int
	}{
		{name: "audio without media", url: second + "/audio", want: http.StatusNotFound},
		{name: "frame far from any timestamp", url: first + "/frames/45", want: http.StatusNotFound},
		{name: "frame bad timestamp", url: first + "/frames/soon", want: http.StatusBadRequest},
		{name: "frame negative timestamp", url: first + "/frames/-1", want: http.StatusBadRequest},
		{name: "frames never extracted", url: second + "/frames/30", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, _ := fetch(t, tc.url, ""); code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, code)
			}
		})
	}

	if err := os.Remove(audio); err != nil {
		t.Fatalf("remove audio: %v", err)
	}
	if code, _ := fetch(t, first+"/audio", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 once the file is gone, got %d", code)
	}
}

func TestAPIServerRenamesAndDeletesCourses(t *testing.T) {
	_, store, base := startTestDaemon(t)
	course, lectures := testsupport.SeedCourse(t, store, "acoustics", 2)
	courseURL := fmt.Sprintf("%s/api/courses/%d", base, course.ID)

	var renamed api.Course
	if code := doJSON(t, http.MethodPatch, courseURL, api.UpdateCourseRequest{Title: "Applied Acoustics"}, &renamed); code != http.StatusOK {
		t.Fatalf("rename: status %d", code)
	}
	if renamed.Title != "Applied Acoustics" || len(renamed.Lectures) != 2 {
		t.Fatalf("unexpected renamed course %+v", renamed)
	}
	if code := doJSON(t, http.MethodPatch, courseURL, api.UpdateCourseRequest{}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty title: expected 400, got %d", code)
	}
	if code := doJSON(t, http.MethodPatch, base+"/api/courses/999", api.UpdateCourseRequest{Title: "x"}, nil); code != http.StatusNotFound {
		t.Fatalf("rename missing course: expected 404, got %d", code)
	}

	// Lectures with unmet dependencies are skipped rather than rejected.
	var bulk api.PipelineResponse
	if code := doJSON(t, http.MethodPost, base+"/api/bulk/notes", api.BulkRequest{LectureIDs: []int64{lectures[0].ID}}, &bulk); code != http.StatusAccepted {
		t.Fatalf("bulk: status %d", code)
	}
	if bulk.Enqueued != 0 || bulk.Skipped != 1 {
		t.Fatalf("unexpected bulk result %+v", bulk)
	}

	if code := doJSON(t, http.MethodDelete, courseURL, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete course: status %d", code)
	}
	if code := doJSON(t, http.MethodGet, courseURL, nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted course, got %d", code)
	}
	for _, lecture := range lectures {
		if code := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/lectures/%d", base, lecture.ID), nil, nil); code != http.StatusNotFound {
			t.Fatalf("expected lecture %d to be removed with its course, got %d", lecture.ID, code)
		}
	}
	if code := doJSON(t, http.MethodDelete, courseURL, nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", code)
	}
}

func TestAPIServerRejectsInvalidRequests(t *testing.T) {
	_, store, base := startTestDaemon(t)
	_, lectures := testsupport.SeedCourse(t, store, "algebra", 1)
	lectureURL := fmt.Sprintf("%s/api/lectures/%d", base, lectures[0].ID)

	cases := []struct {
		name   string
		method string
		url    string
		body   any
		want   int
	}{
		{name: "non numeric id", method: http.MethodGet, url: base + "/api/lectures/abc", want: http.StatusBadRequest},
		{name: "missing course", method: http.MethodGet, url: base + "/api/courses/999", want: http.StatusNotFound},
		{name: "empty title", method: http.MethodPost, url: base + "/api/courses", body: api.CreateCourseRequest{}, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, url: base + "/api/courses", body: map[string]any{"title": "x", "bogus": 1}, want: http.StatusBadRequest},
		{name: "bulk unknown stage", method: http.MethodPost, url: base + "/api/bulk/encode", body: api.BulkRequest{LectureIDs: []int64{lectures[0].ID}}, want: http.StatusBadRequest},
		{name: "bulk without lectures", method: http.MethodPost, url: base + "/api/bulk/notes", body: api.BulkRequest{}, want: http.StatusBadRequest},
		{name: "pipeline bad scope", method: http.MethodPost, url: base + "/api/pipeline", body: map[string]any{"scope": "planet"}, want: http.StatusBadRequest},
		{name: "retry pending stage", method: http.MethodPost, url: lectureURL + "/retry", body: api.RetryRequest{Stage: "acquisition"}, want: http.StatusBadRequest},
		{name: "summary bad flag", method: http.MethodGet, url: base + "/api/summary?recompute=maybe", want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodPut, url: base + "/api/courses", want: http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code := doJSON(t, tc.method, tc.url, tc.body, nil); code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, code)
			}
		})
	}
}

func TestAPIServerRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "s3cret"
	d, _ := newTestDaemon(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()
	url := "http://" + d.Address() + "/api/status"

	if code := doJSON(t, http.MethodGet, url, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected correlation id header")
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected running daemon and workflow, got %+v", status)
	}
	if len(status.Workflow.StageHealth) != len(stage.All()) {
		t.Fatalf("expected health for every stage, got %+v", status.Workflow.StageHealth)
	}
}

func TestAPIServerStorage(t *testing.T) {
	d, _, base := startTestDaemon(t)
	testsupport.WriteFile(t, filepath.Join(d.cfg.Paths.MediaDir, "1", "1.opus"), 2048)
	testsupport.WriteFile(t, filepath.Join(d.cfg.Paths.FramesDir, "1", "1", "000001.jpg"), 512)

	var stats api.StorageStats
	if code := doJSON(t, http.MethodGet, base+"/api/storage", nil, &stats); code != http.StatusOK {
		t.Fatalf("storage: status %d", code)
	}
	if stats.MediaBytes != 2048 || stats.FramesBytes != 512 {
		t.Fatalf("unexpected sizes %+v", stats)
	}
	if stats.DatabaseBytes <= 0 {
		t.Fatalf("expected database size, got %d", stats.DatabaseBytes)
	}
	if stats.DiskTotal == 0 || stats.DiskFree > stats.DiskTotal {
		t.Fatalf("unexpected disk stats %+v", stats)
	}
}

func TestAPIServerLogs(t *testing.T) {
	d, _, base := startTestDaemon(t)
	testsupport.WriteFile(t, d.LogPath(), 0)
	if err := os.WriteFile(d.LogPath(), []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var tail api.LogsResponse
	if code := doJSON(t, http.MethodGet, base+"/api/logs?limit=2", nil, &tail); code != http.StatusOK {
		t.Fatalf("logs: status %d", code)
	}
	if len(tail.Lines) != 2 || tail.Lines[0] != "second" || tail.Offset != 19 {
		t.Fatalf("unexpected tail %+v", tail)
	}

	var empty api.LogsResponse
	if code := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/logs?offset=%d", base, tail.Offset), nil, &empty); code != http.StatusOK {
		t.Fatalf("logs from offset: status %d", code)
	}
	if empty.Lines == nil || len(empty.Lines) != 0 || empty.Offset != tail.Offset {
		t.Fatalf("expected no new lines, got %+v", empty)
	}

	for _, query := range []string{"offset=abc", "limit=-1", "limit=99999", "wait=soon"} {
		if code := doJSON(t, http.MethodGet, base+"/api/logs?"+query, nil, nil); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, code)
		}
	}
}

func TestEventsSocketStreamsCourseEvents(t *testing.T) {
	d, store, base := startTestDaemon(t)
	course, lectures := testsupport.SeedCourse(t, store, "physics", 1)
	other, _ := testsupport.SeedCourse(t, store, "history", 1)

	wsURL := fmt.Sprintf("ws://%s/api/events?course=%d", d.Address(), course.ID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var hello api.SocketFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if hello.Type != api.FrameConnected || hello.Client == "" {
		t.Fatalf("unexpected welcome frame %+v", hello)
	}

	code := doJSON(t, http.MethodPost, base+"/api/pipeline", workflow.PipelineRequest{Scope: workflow.ScopeCourse, CourseID: other.ID}, nil)
	if code != http.StatusAccepted {
		t.Fatalf("pipeline for other course: status %d", code)
	}
	var result workflow.Result
	code = doJSON(t, http.MethodPost, base+"/api/pipeline", workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: lectures[0].ID}, &result)
	if code != http.StatusAccepted || result.Enqueued != 1 {
		t.Fatalf("pipeline: status %d result %+v", code, result)
	}

	for {
		var frame api.SocketFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if frame.Type != api.FrameEvent || frame.Event == nil {
			t.Fatalf("unexpected frame %+v", frame)
		}
		evt := frame.Event
		if evt.CourseID != course.ID {
			t.Fatalf("received event for course %d", evt.CourseID)
		}
		if evt.Kind == events.KindStage && evt.Stage == stage.Acquisition && evt.Status == stage.StatusNoMedia {
			return
		}
	}
}

func TestEventsSocketRejectsBadCourse(t *testing.T) {
	_, _, base := startTestDaemon(t)
	if code := doJSON(t, http.MethodGet, base+"/api/events?course=x", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestStatusForMapsMarkers(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: queue.ErrNotFound, want: http.StatusNotFound},
		{err: services.Wrap(services.ErrValidation, "api", "x", "bad", nil), want: http.StatusBadRequest},
		{err: services.Wrap(services.ErrExternalTool, "notes", "x", "boom", nil), want: http.StatusInternalServerError},
		{err: errors.New("plain"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
