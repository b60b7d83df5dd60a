package workflow

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"lectern/internal/logging"
)

const defaultProgressRate = 4

// progressReporter coalesces acquisition progress. Phase changes and
// completion ticks always pass; everything else is limited to rate per
// second.
type progressReporter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	sampler *logging.ProgressSampler
	logger  *slog.Logger
	phase   string
	emit    func(ProgressUpdate)
	onPhase func(string)

	forwarded int
	coalesced int
}

func newProgressReporter(perSecond float64, logger *slog.Logger, emit func(ProgressUpdate), onPhase func(string)) *progressReporter {
	if perSecond <= 0 {
		perSecond = defaultProgressRate
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &progressReporter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		sampler: logging.NewProgressSampler(25),
		logger:  logger,
		emit:    emit,
		onPhase: onPhase,
	}
}

func (r *progressReporter) report(update ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phaseChanged := update.Phase != "" && update.Phase != r.phase
	if phaseChanged {
		r.phase = update.Phase
		if r.onPhase != nil {
			r.onPhase(update.Phase)
		}
	}
	if update.Phase == "" {
		update.Phase = r.phase
	}
	complete := update.Total > 0 && update.Done >= update.Total

	if phaseChanged || complete || r.limiter.Allow() {
		r.forwarded++
		if r.emit != nil {
			r.emit(update)
		}
	} else {
		r.coalesced++
	}

	percent := -1.0
	if update.Total > 0 {
		percent = float64(update.Done) / float64(update.Total) * 100
	}
	if r.sampler.ShouldLog(percent, update.Phase) {
		r.logger.Info("acquisition progress",
			logging.String(logging.FieldEventType, "acquisition_progress"),
			logging.String("phase", update.Phase),
			logging.Int64("done", update.Done),
			logging.Int64("total", update.Total),
			logging.Float64("percent", percent),
		)
	}
}

func (r *progressReporter) counts() (forwarded, coalesced int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forwarded, r.coalesced
}
