package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/services"
	"lectern/internal/stage"
	"lectern/internal/workflow"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind     string
	token    string
	logger   *slog.Logger
	daemon   *Daemon
	validate *validator.Validate
	upgrader *websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	ctx      context.Context
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		token:    cfg.Paths.APIToken,
		logger:   logging.NewComponentLogger(logger, "api"),
		daemon:   d,
		validate: workflow.NewValidator(),
		upgrader: newUpgrader(cfg.Paths.APIToken),
	}
	srv.handler = srv.routes()
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(s.token, h))
	}

	handle("GET /api/status", s.handleStatus)
	handle("GET /api/courses", s.handleListCourses)
	handle("POST /api/courses", s.handleCreateCourse)
	handle("GET /api/courses/{id}", s.handleGetCourse)
	handle("PATCH /api/courses/{id}", s.handleRenameCourse)
	handle("DELETE /api/courses/{id}", s.handleDeleteCourse)
	handle("POST /api/courses/{id}/lectures", s.handleAddLecture)
	handle("GET /api/lectures/{id}", s.handleGetLecture)
	handle("DELETE /api/lectures/{id}", s.handleDeleteLecture)
	handle("GET /api/lectures/{id}/transcript", s.handleTranscript)
	handle("GET /api/lectures/{id}/notes", s.handleNotes)
	handle("GET /api/lectures/{id}/frames", s.handleFrames)
	handle("GET /api/lectures/{id}/frames/{timestamp}", s.handleFrameImage)
	handle("GET /api/lectures/{id}/audio", s.handleAudio)
	handle("POST /api/lectures/{id}/retry", s.handleRetry)
	handle("POST /api/pipeline", s.handlePipeline)
	handle("POST /api/bulk/{stage}", s.handleBulk)
	handle("GET /api/queue", s.handleQueue)
	handle("GET /api/summary", s.handleSummary)
	handle("GET /api/storage", s.handleStorage)
	handle("GET /api/logs", s.handleLogs)
	handle("GET /api/events", s.handleEvents)

	return s.withRequestID(mux)
}

// withRequestID tags every request with a correlation id that flows into
// logs and the X-Request-ID response header.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.ctx = ctx
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "api requests and event streams are unavailable"),
				logging.String(logging.FieldErrorHint, "check paths.api_bind and restart the daemon"),
			)
		}
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

// serverContext is the daemon context once serving, so long-lived streams end
// on shutdown even though hijacked connections outlive http.Server.Shutdown.
func (s *apiServer) serverContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		APIBind:      status.APIBind,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
	})
}

func (s *apiServer) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.daemon.lectures.Courses(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CourseListResponse{Courses: courses})
}

func (s *apiServer) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req api.CreateCourseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	course, err := s.daemon.workflow.CreateCourse(r.Context(), strings.TrimSpace(req.Title), strings.TrimSpace(req.SourceURL))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	dto, err := s.daemon.lectures.Course(r.Context(), course.ID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, dto)
}

func (s *apiServer) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	course, err := s.daemon.lectures.Course(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, course)
}

func (s *apiServer) handleRenameCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req api.UpdateCourseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if _, err := s.daemon.workflow.RenameCourse(r.Context(), id, strings.TrimSpace(req.Title)); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	course, err := s.daemon.lectures.Course(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, course)
}

func (s *apiServer) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.daemon.workflow.DeleteCourse(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleAddLecture(w http.ResponseWriter, r *http.Request) {
	courseID, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req api.AddLectureRequest
	if err := s.decode(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	lecture, err := s.daemon.workflow.AddLecture(r.Context(), queue.NewLecture{
		CourseID:   courseID,
		Title:      strings.TrimSpace(req.Title),
		SourceURL:  strings.TrimSpace(req.SourceURL),
		Position:   req.Position,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromLecture(lecture))
}

func (s *apiServer) handleGetLecture(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	lecture, err := s.daemon.lectures.Lecture(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lecture)
}

func (s *apiServer) handleDeleteLecture(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.daemon.workflow.DeleteLecture(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	transcript, err := s.daemon.lectures.Transcript(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transcript)
}

func (s *apiServer) handleNotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	notes, err := s.daemon.lectures.Notes(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, notes)
}

func (s *apiServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	frames, err := s.daemon.lectures.Frames(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, frames)
}

func (s *apiServer) handleFrameImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	raw := r.PathValue("timestamp")
	timestamp, err := strconv.ParseFloat(raw, 64)
	if err != nil || timestamp < 0 || math.IsInf(timestamp, 0) || math.IsNaN(timestamp) {
		s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "parse path", fmt.Sprintf("invalid timestamp %q", raw), nil))
		return
	}
	path, err := s.daemon.lectures.FramePath(r.Context(), id, timestamp)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.serveFile(w, r, path)
}

func (s *apiServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	path, err := s.daemon.lectures.AudioPath(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.serveFile(w, r, path)
}

// serveFile streams a stored file with range support. The server write
// timeout is lifted because recordings can be large.
func (s *apiServer) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = services.Wrap(services.ErrNotFound, "api", "serve file", fmt.Sprintf("%s is missing on disk", filepath.Base(path)), nil)
		}
		s.writeFailure(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if info.IsDir() {
		s.writeFailure(w, r, services.Wrap(services.ErrNotFound, "api", "serve file", "not a regular file", nil))
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req api.RetryRequest
	if err := s.decode(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	name, err := parseStage(req.Stage)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	result, err := s.daemon.workflow.Retry(r.Context(), id, name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *apiServer) handlePipeline(w http.ResponseWriter, r *http.Request) {
	var req workflow.PipelineRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	result, err := s.daemon.workflow.Run(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *apiServer) handleBulk(w http.ResponseWriter, r *http.Request) {
	name, err := parseStage(r.PathValue("stage"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req api.BulkRequest
	if err := s.decode(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	pipeline := workflow.PipelineRequest{
		Scope:      workflow.ScopeBulk,
		LectureIDs: req.LectureIDs,
		Stage:      name,
		Force:      req.Force,
	}
	switch name {
	case stage.Transcription:
		pipeline.TranscriptModel = req.Model
	case stage.Notes:
		pipeline.NotesModel = req.Model
	case stage.Frames:
		pipeline.FramesModel = req.Model
	}
	result, err := s.daemon.workflow.Run(r.Context(), pipeline)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	lectures, err := s.daemon.lectures.Queue(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.LectureListResponse{Lectures: lectures})
}

func (s *apiServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	recompute := false
	if raw := strings.TrimSpace(r.URL.Query().Get("recompute")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "parse query", "recompute must be a boolean", err))
			return
		}
		recompute = parsed
	}
	report, err := s.daemon.lectures.Summary(r.Context(), recompute)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleStorage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Storage(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *apiServer) decode(r *http.Request, dst any) error {
	if err := s.readJSON(r, dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "validate body", "invalid request", err)
	}
	return nil
}

func (s *apiServer) readJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.Wrap(services.ErrValidation, "api", "decode body", "request body is required", nil)
		}
		return services.Wrap(services.ErrValidation, "api", "decode body", "malformed JSON", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "parse path", fmt.Sprintf("invalid id %q", raw), nil)
	}
	return id, nil
}

func parseStage(raw string) (stage.Name, error) {
	name, err := stage.ParseName(raw)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "api", "parse stage", fmt.Sprintf("unknown stage %q", raw), nil)
	}
	return name, nil
}

// statusFor maps error markers to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldImpact, "the client received a server error"),
			logging.String(logging.FieldErrorHint, "inspect the daemon log around this correlation id"),
		)
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		s.logger.Debug("api encode failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
