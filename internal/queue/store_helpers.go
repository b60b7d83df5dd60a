package queue

import (
	"database/sql"
	"errors"
	"time"

	"lectern/internal/stage"
)

const (
	courseColumns  = "id, title, source_url, created_at"
	lectureColumns = "id, course_id, title, source_url, position, recorded_at, duration_seconds, media_path, created_at, updated_at"
	stageColumns   = "lecture_id, stage, status, phase, model, error_message, attempt, updated_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(scanner rowScanner) (*Course, error) {
	var (
		course     Course
		sourceURL  sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&course.ID, &course.Title, &sourceURL, &createdRaw); err != nil {
		return nil, err
	}
	course.SourceURL = sourceURL.String
	if created, err := parseTimeString(createdRaw.String); err == nil {
		course.CreatedAt = created
	}
	return &course, nil
}

func scanLecture(scanner rowScanner) (*Lecture, error) {
	var (
		lecture     Lecture
		sourceURL   sql.NullString
		recordedRaw sql.NullString
		duration    sql.NullFloat64
		mediaPath   sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&lecture.ID,
		&lecture.CourseID,
		&lecture.Title,
		&sourceURL,
		&lecture.Position,
		&recordedRaw,
		&duration,
		&mediaPath,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	lecture.SourceURL = sourceURL.String
	lecture.DurationSeconds = duration.Float64
	lecture.MediaPath = mediaPath.String
	if recordedRaw.Valid {
		if recorded, err := parseTimeString(recordedRaw.String); err == nil {
			lecture.RecordedAt = &recorded
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		lecture.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		lecture.UpdatedAt = updated
	}
	lecture.Stages = make(map[stage.Name]StageState, len(stage.All()))
	return &lecture, nil
}

func scanStage(scanner rowScanner) (int64, stage.Name, StageState, error) {
	var (
		lectureID  int64
		name       string
		status     string
		phase      sql.NullString
		model      sql.NullString
		errMessage sql.NullString
		attempt    int64
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&lectureID, &name, &status, &phase, &model, &errMessage, &attempt, &updatedRaw); err != nil {
		return 0, "", StageState{}, err
	}
	state := StageState{
		Status:       stage.Status(status),
		Phase:        phase.String,
		Model:        model.String,
		ErrorMessage: errMessage.String,
		Attempt:      attempt,
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		state.UpdatedAt = updated
	}
	return lectureID, stage.Name(name), state, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
