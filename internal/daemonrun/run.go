package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lectern/internal/config"
	"lectern/internal/daemon"
	"lectern/internal/daemonctl"
	"lectern/internal/deps"
	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/preflight"
	"lectern/internal/queue"
	"lectern/internal/services/fetch"
	"lectern/internal/services/frames"
	"lectern/internal/services/notes"
	"lectern/internal/services/transcribe"
	"lectern/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the lectern daemon runtime loop and blocks until cmdCtx is
// cancelled or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logName := fmt.Sprintf("lecternd-%s.log", runID)
	logPath := filepath.Join(cfg.Paths.LogDir, logName)
	logger, err := logging.NewFromConfig(cfg, logName)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update lecternd.log link: %v\n", err)
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, "lecternd-*.log", logPath, cfg.Logging.RetentionDays)
	logDependencySnapshot(logger, cfg)
	logPreflight(logger, preflight.RunAll(signalCtx, cfg))

	pidPath := daemonctl.PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open lecture store", "store_open_failed",
			logging.Error(err),
			logging.String("path", cfg.DatabasePath()),
			logging.String(logging.FieldImpact, "daemon cannot start"),
			logging.String(logging.FieldErrorHint, "check paths.data_dir permissions"),
		)
		return err
	}

	manager := workflow.NewManager(cfg, store, collaborators(cfg, logger), logger)
	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the api bind address and the lock file"),
			logging.String(logging.FieldImpact, "lectures will not be processed"),
		)
		return err
	}
	if err := startNotifications(signalCtx, cfg, store, manager, logger); err != nil {
		logging.WarnWithContext(logger, "notifications unavailable", "notifications_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no ntfy alerts will be sent"),
		)
	}

	<-signalCtx.Done()
	logger.Info("lectern daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func collaborators(cfg *config.Config, logger *slog.Logger) workflow.Collaborators {
	return workflow.Collaborators{
		Acquirer:       fetch.New(cfg, fetch.WithLogger(logger)),
		Transcriber:    transcribe.New(cfg, transcribe.WithLogger(logger)),
		NoteWriter:     notes.New(cfg, notes.WithLogger(logger)),
		FrameExtractor: frames.New(cfg, frames.WithLogger(logger)),
	}
}

func startNotifications(ctx context.Context, cfg *config.Config, store *queue.Store, manager *workflow.Manager, logger *slog.Logger) error {
	if cfg.Notifications.NtfyTopic == "" {
		return nil
	}
	sub, err := manager.Subscribe(ctx, events.WithKinds(events.KindStage))
	if err != nil {
		return err
	}
	watcher := notifications.NewWatcher(cfg, notifications.NewService(cfg), store, logger)
	go watcher.Run(ctx, sub)
	logger.Info("ntfy notifications enabled", logging.String(logging.FieldEventType, "notifications_enabled"))
	return nil
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "stages depending on this will fail"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "lecternd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("transcription_default", cfg.Transcription.DefaultModel),
		logging.String("notes_default", cfg.Notes.DefaultModel),
		logging.Bool("notes_key_present", strings.TrimSpace(cfg.Notes.APIKey) != ""),
		logging.Bool("run_frames", cfg.Workflow.RunFrames),
	}
	keys := strings.NewReplacer(" ", "_", "(", "", ")", "")
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		key := keys.Replace(strings.ToLower(status.Name))
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
