package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/deps"
	"lectern/internal/fileutil"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	lectures *api.LectureService
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	APIBind      string
	Workflow     workflow.StatusSummary
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		lectures: api.NewLectureService(store, wf),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workflow manager and begins
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lectern daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.release()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.release()
		return err
	}

	d.running.Store(true)
	d.logger.Info("lectern daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

func (d *Daemon) release() {
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a new daemon may refuse to start until the lock file is removed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
}

// Stop stops the API and background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.workflow.Stop()
	d.release()
	d.running.Store(false)
	d.logger.Info("lectern daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Address returns the address the API server is bound to, or the configured
// bind before Start.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIBind:      d.api.address(),
		Workflow:     d.workflow.Status(ctx),
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
}

// Storage reports bytes held in the media and frames directories, the
// database size and free space on the data volume.
func (d *Daemon) Storage(ctx context.Context) (api.StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return api.StorageStats{}, err
	}
	media, err := fileutil.DirSize(d.cfg.Paths.MediaDir)
	if err != nil {
		return api.StorageStats{}, fmt.Errorf("measure media dir: %w", err)
	}
	frames, err := fileutil.DirSize(d.cfg.Paths.FramesDir)
	if err != nil {
		return api.StorageStats{}, fmt.Errorf("measure frames dir: %w", err)
	}
	stats := api.StorageStats{
		MediaBytes:    media,
		FramesBytes:   frames,
		DatabaseBytes: d.store.DatabaseSize(),
	}
	total, free, err := fileutil.DiskSpace(d.cfg.Paths.DataDir)
	if err != nil {
		logging.WarnWithContext(d.logger, "disk space unavailable", "disk_space_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "storage stats omit disk totals"),
			logging.String(logging.FieldErrorHint, "check that paths.data_dir exists"),
		)
		return stats, nil
	}
	stats.DiskTotal = total
	stats.DiskFree = free
	return stats, nil
}
