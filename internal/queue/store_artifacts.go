package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"lectern/internal/stage"
)

// SaveTranscript stores the transcription output, replacing any earlier one.
func (s *Store) SaveTranscript(ctx context.Context, lectureID int64, transcript Transcript) error {
	return s.saveArtifact(ctx, lectureID, artifactTranscript, transcript.Model, transcript)
}

// Transcript loads the stored transcript.
func (s *Store) Transcript(ctx context.Context, lectureID int64) (*Transcript, error) {
	var transcript Transcript
	if err := s.loadArtifact(ctx, lectureID, artifactTranscript, &transcript); err != nil {
		return nil, err
	}
	return &transcript, nil
}

// SaveNotes stores the generated notes, replacing any earlier ones.
func (s *Store) SaveNotes(ctx context.Context, lectureID int64, notes Notes) error {
	return s.saveArtifact(ctx, lectureID, artifactNotes, notes.Model, notes)
}

// Notes loads the stored notes.
func (s *Store) Notes(ctx context.Context, lectureID int64) (*Notes, error) {
	var notes Notes
	if err := s.loadArtifact(ctx, lectureID, artifactNotes, &notes); err != nil {
		return nil, err
	}
	return &notes, nil
}

// SaveFrames stores the extracted frame list, replacing any earlier one.
func (s *Store) SaveFrames(ctx context.Context, lectureID int64, frames Frames) error {
	return s.saveArtifact(ctx, lectureID, artifactFrames, "", frames)
}

// Frames loads the stored frame list.
func (s *Store) Frames(ctx context.Context, lectureID int64) (*Frames, error) {
	var frames Frames
	if err := s.loadArtifact(ctx, lectureID, artifactFrames, &frames); err != nil {
		return nil, err
	}
	return &frames, nil
}

func (s *Store) saveArtifact(ctx context.Context, lectureID int64, kind artifactKind, model string, value any) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM lectures WHERE id = ?`, lectureID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("lecture", lectureID)
		}
		if err != nil {
			return fmt.Errorf("check lecture: %w", err)
		}
		return upsertArtifact(ctx, tx, lectureID, kind, model, value)
	})
}

func upsertArtifact(ctx context.Context, tx *sql.Tx, lectureID int64, kind artifactKind, model string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO artifacts (lecture_id, kind, model, payload_json, created_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(lecture_id, kind) DO UPDATE SET
             model = excluded.model,
             payload_json = excluded.payload_json,
             created_at = excluded.created_at`,
		lectureID, kind, nullableString(model), string(payload), nowString(),
	); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

// artifactFor maps a stage to the artifact it produces. Acquisition writes
// lecture columns instead.
func artifactFor(name stage.Name) (artifactKind, bool) {
	switch name {
	case stage.Transcription:
		return artifactTranscript, true
	case stage.Notes:
		return artifactNotes, true
	case stage.Frames:
		return artifactFrames, true
	default:
		return "", false
	}
}

func (s *Store) loadArtifact(ctx context.Context, lectureID int64, kind artifactKind, dst any) error {
	var payload string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT payload_json FROM artifacts WHERE lecture_id = ? AND kind = ?`, lectureID, kind,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s for lecture %d", ErrNotFound, kind, lectureID)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}
