package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lectern/internal/stage"
)

// TransitionOption adjusts the columns written alongside a status change.
type TransitionOption func(*transition)

type transition struct {
	model      string
	phase      string
	errText    string
	attempt    int64
	hasAttempt bool
	writes     []func(context.Context, *sql.Tx, int64) error
	invalidate []stage.Name
	onReset    func(stage.Name, stage.Status)
}

// WithModel records the model chosen for the stage. An empty model keeps the
// previously recorded one.
func WithModel(model string) TransitionOption {
	return func(t *transition) { t.model = model }
}

// WithPhase sets the acquisition sub-phase when entering active.
func WithPhase(phase string) TransitionOption {
	return func(t *transition) { t.phase = phase }
}

// WithError records error text when entering error or no_media.
func WithError(text string) TransitionOption {
	return func(t *transition) { t.errText = text }
}

// WithAttempt guards the update on the stage still being at attempt.
func WithAttempt(attempt int64) TransitionOption {
	return func(t *transition) {
		t.attempt = attempt
		t.hasAttempt = true
	}
}

// WithTranscript stores the transcript in the same transaction as the status
// change, so a superseded attempt never overwrites it.
func WithTranscript(transcript Transcript) TransitionOption {
	return withArtifact(artifactTranscript, transcript.Model, transcript)
}

// WithNotes stores the notes alongside the status change.
func WithNotes(notes Notes) TransitionOption {
	return withArtifact(artifactNotes, notes.Model, notes)
}

// WithFrames stores the frame list alongside the status change.
func WithFrames(frames Frames) TransitionOption {
	return withArtifact(artifactFrames, "", frames)
}

func withArtifact(kind artifactKind, model string, value any) TransitionOption {
	return func(t *transition) {
		t.writes = append(t.writes, func(ctx context.Context, tx *sql.Tx, lectureID int64) error {
			return upsertArtifact(ctx, tx, lectureID, kind, model, value)
		})
	}
}

// WithMedia records the acquired media file alongside the status change.
func WithMedia(mediaPath string, durationSeconds float64) TransitionOption {
	return func(t *transition) {
		t.writes = append(t.writes, func(ctx context.Context, tx *sql.Tx, lectureID int64) error {
			if _, err := tx.ExecContext(ctx,
				`UPDATE lectures SET media_path = ?, duration_seconds = ? WHERE id = ?`,
				nullableString(mediaPath), durationSeconds, lectureID,
			); err != nil {
				return fmt.Errorf("set media: %w", err)
			}
			return nil
		})
	}
}

// WithInvalidate returns each named stage that is done or error to pending and
// drops its artifact. Queued and active stages are left alone. onReset, when
// non-nil, is called after commit for every stage that was reset.
func WithInvalidate(onReset func(stage.Name, stage.Status), names ...stage.Name) TransitionOption {
	return func(t *transition) {
		t.invalidate = append(t.invalidate, names...)
		t.onReset = onReset
	}
}

type resetStage struct {
	name stage.Name
	from stage.Status
}

func invalidateStages(ctx context.Context, tx *sql.Tx, lectureID int64, names []stage.Name, now string) ([]resetStage, error) {
	var reset []resetStage
	for _, name := range names {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM lecture_stages WHERE lecture_id = ? AND stage = ?`, lectureID, name,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s status: %w", name, err)
		}
		from := stage.Status(raw)
		if stage.ValidateTransition(name, from, stage.StatusPending, stage.CauseInvalidate) != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE lecture_stages SET status = ?, phase = NULL, error_message = NULL, updated_at = ?
             WHERE lecture_id = ? AND stage = ? AND status = ?`,
			stage.StatusPending, now, lectureID, name, from,
		); err != nil {
			return nil, fmt.Errorf("invalidate %s: %w", name, err)
		}
		if kind, ok := artifactFor(name); ok {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM artifacts WHERE lecture_id = ? AND kind = ?`, lectureID, kind,
			); err != nil {
				return nil, fmt.Errorf("drop %s: %w", kind, err)
			}
		}
		reset = append(reset, resetStage{name: name, from: from})
	}
	return reset, nil
}

// GetStageState reads the current state of one stage.
func (s *Store) GetStageState(ctx context.Context, lectureID int64, name stage.Name) (StageState, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+stageColumns+` FROM lecture_stages WHERE lecture_id = ? AND stage = ?`,
		lectureID, name,
	)
	_, _, state, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StageState{}, fmt.Errorf("%w: lecture %d stage %s", ErrNotFound, lectureID, name)
	}
	if err != nil {
		return StageState{}, fmt.Errorf("get stage state: %w", err)
	}
	return state, nil
}

// CompareAndSetStatus moves a stage from expected to next in one conditional
// UPDATE. It reports false, with no error, when the stage is no longer in
// expected. The edge is validated before touching the database.
//
// Error text is cleared unless next is error or no_media, and the phase is
// cleared unless next is active. Entering queued bumps the attempt counter.
// Writes requested through opts commit only when the status change applies.
func (s *Store) CompareAndSetStatus(ctx context.Context, lectureID int64, name stage.Name, expected, next stage.Status, cause stage.Cause, opts ...TransitionOption) (bool, error) {
	if err := stage.ValidateTransition(name, expected, next, cause); err != nil {
		return false, err
	}
	var t transition
	for _, opt := range opts {
		opt(&t)
	}

	var errValue, phaseValue any
	if next == stage.StatusError || next == stage.StatusNoMedia {
		errValue = nullableString(t.errText)
	}
	if next == stage.StatusActive {
		phaseValue = nullableString(t.phase)
	}

	bump := 0
	if next == stage.StatusQueued {
		bump = 1
	}
	query := `UPDATE lecture_stages
             SET status = ?, phase = ?, model = COALESCE(?, model), error_message = ?, attempt = attempt + ?, updated_at = ?
             WHERE lecture_id = ? AND stage = ? AND status = ?`

	ctx = ensureContext(ctx)
	var updated bool
	var reset []resetStage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updated = false
		reset = nil
		now := nowString()
		args := []any{next, phaseValue, nullableString(t.model), errValue, bump, now, lectureID, name, expected}
		q := query
		if t.hasAttempt {
			q += ` AND attempt = ?`
			args = append(args, t.attempt)
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("update stage status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("stage status rows: %w", err)
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM lecture_stages WHERE lecture_id = ? AND stage = ?`, lectureID, name,
			).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: lecture %d stage %s", ErrNotFound, lectureID, name)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE lectures SET updated_at = ? WHERE id = ?`, now, lectureID); err != nil {
			return fmt.Errorf("touch lecture: %w", err)
		}
		for _, write := range t.writes {
			if err := write(ctx, tx, lectureID); err != nil {
				return err
			}
		}
		reset, err = invalidateStages(ctx, tx, lectureID, t.invalidate, now)
		if err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if t.onReset != nil {
		for _, r := range reset {
			t.onReset(r.name, r.from)
		}
	}
	return updated, nil
}

// SetResult records the outcome of an active stage. It fails with
// ErrStaleTransition when the stage is no longer active, or was re-queued
// since the attempt passed with WithAttempt.
func (s *Store) SetResult(ctx context.Context, lectureID int64, name stage.Name, status stage.Status, errText, model string, opts ...TransitionOption) error {
	opts = append([]TransitionOption{WithModel(model), WithError(errText)}, opts...)
	ok, err := s.CompareAndSetStatus(ctx, lectureID, name, stage.StatusActive, status, stage.CauseComplete, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: lecture %d stage %s", ErrStaleTransition, lectureID, name)
	}
	return nil
}

// SetPhase updates the sub-phase of an active stage. It reports false when
// the stage is not active. Only WithAttempt is honoured from opts.
func (s *Store) SetPhase(ctx context.Context, lectureID int64, name stage.Name, phase string, opts ...TransitionOption) (bool, error) {
	var t transition
	for _, opt := range opts {
		opt(&t)
	}
	query := `UPDATE lecture_stages SET phase = ?, updated_at = ? WHERE lecture_id = ? AND stage = ? AND status = ?`
	args := []any{nullableString(phase), nowString(), lectureID, name, stage.StatusActive}
	if t.hasAttempt {
		query += ` AND attempt = ?`
		args = append(args, t.attempt)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set phase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set phase rows: %w", err)
	}
	return affected > 0, nil
}

// RecoverInFlight returns every queued or active stage to pending. Jobs live
// only in memory, so after a restart nothing would ever pick them up.
func (s *Store) RecoverInFlight(ctx context.Context) (int64, error) {
	for _, name := range stage.All() {
		for _, from := range []stage.Status{stage.StatusQueued, stage.StatusActive} {
			if err := stage.ValidateTransition(name, from, stage.StatusPending, stage.CauseRecover); err != nil {
				return 0, err
			}
		}
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE lecture_stages
         SET status = ?, phase = NULL, error_message = NULL, updated_at = ?
         WHERE status IN (?, ?)`,
		stage.StatusPending, nowString(), stage.StatusQueued, stage.StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight stages: %w", err)
	}
	return res.RowsAffected()
}
