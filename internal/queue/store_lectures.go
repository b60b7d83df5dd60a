package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lectern/internal/stage"
)

// stageLoadChunk bounds the number of ids bound into one IN clause.
const stageLoadChunk = 500

// CreateCourse inserts a new course.
func (s *Store) CreateCourse(ctx context.Context, title, sourceURL string) (*Course, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("course title is required")
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO courses (title, source_url, created_at) VALUES (?, ?, ?)`,
		title, nullableString(strings.TrimSpace(sourceURL)), nowString(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetCourse(ctx, id)
}

// GetCourse fetches a course by id.
func (s *Store) GetCourse(ctx context.Context, id int64) (*Course, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	course, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("course", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return course, nil
}

// ListCourses returns every course ordered by id.
func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+courseColumns+` FROM courses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, *course)
	}
	return courses, rows.Err()
}

// RenameCourse changes the title a course is displayed under.
func (s *Store) RenameCourse(ctx context.Context, id int64, title string) (*Course, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("course title is required")
	}
	res, err := s.execWithRetry(ctx, `UPDATE courses SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return nil, fmt.Errorf("rename course: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, notFound("course", id)
	}
	return s.GetCourse(ctx, id)
}

// DeleteCourse removes a course. Its lectures, stage rows and artifacts go
// with it through the foreign key cascade.
func (s *Store) DeleteCourse(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM courses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete course rows: %w", err)
	}
	if affected == 0 {
		return notFound("course", id)
	}
	return nil
}

// AddLecture registers a lecture and creates its four stage rows, all pending.
func (s *Store) AddLecture(ctx context.Context, in NewLecture) (*Lecture, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.New("lecture title is required")
	}
	if _, err := s.GetCourse(ctx, in.CourseID); err != nil {
		return nil, err
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO lectures (course_id, title, source_url, position, recorded_at, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.CourseID, title, nullableString(strings.TrimSpace(in.SourceURL)), in.Position,
			nullableTime(in.RecordedAt), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert lecture: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		for _, name := range stage.All() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO lecture_stages (lecture_id, stage, status, updated_at) VALUES (?, ?, ?, ?)`,
				id, name, stage.StatusPending, now,
			); err != nil {
				return fmt.Errorf("insert %s stage: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetLecture(ctx, id)
}

// GetLecture fetches a lecture with all of its stage states.
func (s *Store) GetLecture(ctx context.Context, id int64) (*Lecture, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+lectureColumns+` FROM lectures WHERE id = ?`, id)
	lecture, err := scanLecture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("lecture", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lecture: %w", err)
	}
	if err := s.attachStages(ctx, []*Lecture{lecture}); err != nil {
		return nil, err
	}
	return lecture, nil
}

// ListLectures returns lectures matching filter ordered by course and position.
func (s *Store) ListLectures(ctx context.Context, filter LectureFilter) ([]Lecture, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + lectureColumns + ` FROM lectures l`
	var (
		clauses []string
		args    []any
	)
	if filter.CourseID > 0 {
		clauses = append(clauses, "l.course_id = ?")
		args = append(args, filter.CourseID)
	}
	if len(filter.IDs) > 0 {
		clauses = append(clauses, "l.id IN ("+makePlaceholders(len(filter.IDs))+")")
		args = append(args, int64Args(filter.IDs)...)
	}
	switch {
	case filter.Stage != "" && filter.Status != "":
		clauses = append(clauses, "EXISTS (SELECT 1 FROM lecture_stages s WHERE s.lecture_id = l.id AND s.stage = ? AND s.status = ?)")
		args = append(args, filter.Stage, filter.Status)
	case filter.Status != "":
		clauses = append(clauses, "EXISTS (SELECT 1 FROM lecture_stages s WHERE s.lecture_id = l.id AND s.status = ?)")
		args = append(args, filter.Status)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY l.course_id, l.position, l.id"
	return s.queryLectures(ctx, query, args...)
}

// ListActive returns lectures with any stage queued or active.
func (s *Store) ListActive(ctx context.Context) ([]Lecture, error) {
	return s.queryLectures(ensureContext(ctx),
		`SELECT `+lectureColumns+` FROM lectures l
         WHERE EXISTS (SELECT 1 FROM lecture_stages s WHERE s.lecture_id = l.id AND s.status IN (?, ?))
         ORDER BY l.updated_at DESC, l.id`,
		stage.StatusQueued, stage.StatusActive,
	)
}

func (s *Store) queryLectures(ctx context.Context, query string, args ...any) ([]Lecture, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	var lectures []*Lecture
	for rows.Next() {
		lecture, err := scanLecture(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan lecture: %w", err)
		}
		lectures = append(lectures, lecture)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.attachStages(ctx, lectures); err != nil {
		return nil, err
	}
	out := make([]Lecture, len(lectures))
	for i, lecture := range lectures {
		out[i] = *lecture
	}
	return out, nil
}

func (s *Store) attachStages(ctx context.Context, lectures []*Lecture) error {
	byID := make(map[int64]*Lecture, len(lectures))
	ids := make([]int64, 0, len(lectures))
	for _, lecture := range lectures {
		byID[lecture.ID] = lecture
		ids = append(ids, lecture.ID)
	}
	for start := 0; start < len(ids); start += stageLoadChunk {
		end := min(start+stageLoadChunk, len(ids))
		chunk := ids[start:end]
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+stageColumns+` FROM lecture_stages WHERE lecture_id IN (`+makePlaceholders(len(chunk))+`)`,
			int64Args(chunk)...,
		)
		if err != nil {
			return fmt.Errorf("load stages: %w", err)
		}
		for rows.Next() {
			lectureID, name, state, err := scanStage(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan stage: %w", err)
			}
			if lecture, ok := byID[lectureID]; ok {
				lecture.Stages[name] = state
				if state.UpdatedAt.After(lecture.UpdatedAt) {
					lecture.UpdatedAt = state.UpdatedAt
				}
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteLecture removes a lecture together with its stage rows and artifacts.
func (s *Store) DeleteLecture(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM lectures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lecture: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lecture rows: %w", err)
	}
	if affected == 0 {
		return notFound("lecture", id)
	}
	return nil
}

// SetMedia records the acquired media file and its duration.
func (s *Store) SetMedia(ctx context.Context, id int64, mediaPath string, durationSeconds float64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE lectures SET media_path = ?, duration_seconds = ?, updated_at = ? WHERE id = ?`,
		nullableString(mediaPath), durationSeconds, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("set media: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("lecture", id)
	}
	return nil
}
