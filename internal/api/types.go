package api

import (
	"time"

	"lectern/internal/events"
	"lectern/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StageView is the state of one stage of one lecture.
type StageView struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	Label        string `json:"label"`
	Phase        string `json:"phase,omitempty"`
	Model        string `json:"model,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Attempt      int64  `json:"attempt"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// Lecture describes a lecture in a transport-friendly format.
type Lecture struct {
	ID              int64       `json:"id"`
	CourseID        int64       `json:"courseId"`
	Title           string      `json:"title"`
	SourceURL       string      `json:"sourceUrl,omitempty"`
	Position        int         `json:"position"`
	RecordedAt      string      `json:"recordedAt,omitempty"`
	DurationSeconds float64     `json:"durationSeconds,omitempty"`
	MediaPath       string      `json:"mediaPath,omitempty"`
	Stages          []StageView `json:"stages"`
	NoMedia         bool        `json:"noMedia"`
	HasError        bool        `json:"hasError"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	UpdatedAt       string      `json:"updatedAt,omitempty"`
}

// StageProgress is the done count and ratio for one stage of a summary.
type StageProgress struct {
	Name    string  `json:"name"`
	Done    int     `json:"done"`
	Ratio   float64 `json:"ratio"`
	Percent float64 `json:"percent"`
}

// Summary mirrors summary.Summary with stages in pipeline order.
type Summary struct {
	Total           int             `json:"total"`
	NoMedia         int             `json:"noMedia"`
	Eligible        int             `json:"eligible"`
	Errors          int             `json:"errors"`
	InProgress      int             `json:"inProgress"`
	DurationSeconds float64         `json:"durationSeconds"`
	Stages          []StageProgress `json:"stages"`
}

// CourseSummary pairs a course id with its summary.
type CourseSummary struct {
	CourseID int64   `json:"courseId"`
	Summary  Summary `json:"summary"`
}

// SummaryReport is the global summary plus every course, ordered by id.
type SummaryReport struct {
	Global  Summary         `json:"global"`
	Courses []CourseSummary `json:"courses"`
}

// Course describes a course with its summary. Lectures are only populated
// for detail requests.
type Course struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	CreatedAt string    `json:"createdAt,omitempty"`
	Summary   Summary   `json:"summary"`
	Lectures  []Lecture `json:"lectures,omitempty"`
}

// PoolStats mirrors worker pool counters.
type PoolStats struct {
	Workers   int    `json:"workers"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// HubStats mirrors event hub counters.
type HubStats struct {
	Subscribers  int    `json:"subscribers"`
	Published    uint64 `json:"published"`
	InboxDropped uint64 `json:"inboxDropped"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool                      `json:"running"`
	StartedAt   string                    `json:"startedAt,omitempty"`
	Recovered   int64                     `json:"recovered"`
	LastError   string                    `json:"lastError,omitempty"`
	LastOutcome *JobOutcome               `json:"lastOutcome,omitempty"`
	Pool        PoolStats                 `json:"pool"`
	Events      HubStats                  `json:"events"`
	StageCounts map[string]map[string]int `json:"stageCounts"`
	StageHealth []StageHealth             `json:"stageHealth"`
}

// JobOutcome describes the most recently finished stage job.
type JobOutcome struct {
	LectureID int64  `json:"lectureId"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	APIBind      string             `json:"apiBind,omitempty"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// StorageStats reports disk usage of lectern-managed data.
type StorageStats struct {
	MediaBytes    int64  `json:"mediaBytes"`
	FramesBytes   int64  `json:"framesBytes"`
	DatabaseBytes int64  `json:"databaseBytes"`
	DiskTotal     uint64 `json:"diskTotal"`
	DiskFree      uint64 `json:"diskFree"`
}

// CreateCourseRequest is the body of POST /api/courses.
type CreateCourseRequest struct {
	Title     string `json:"title" validate:"required,max=256"`
	SourceURL string `json:"sourceUrl" validate:"omitempty,max=2048"`
}

// UpdateCourseRequest is the body of PATCH /api/courses/{id}.
type UpdateCourseRequest struct {
	Title string `json:"title" validate:"required,max=256"`
}

// AddLectureRequest is the body of POST /api/courses/{id}/lectures.
type AddLectureRequest struct {
	Title      string     `json:"title" validate:"required,max=512"`
	SourceURL  string     `json:"sourceUrl" validate:"omitempty,max=4096"`
	Position   int        `json:"position" validate:"gte=0"`
	RecordedAt *time.Time `json:"recordedAt"`
}

// BulkRequest is the body of POST /api/bulk/{stage}.
type BulkRequest struct {
	LectureIDs []int64 `json:"lectureIds" validate:"required,min=1,dive,gt=0"`
	Force      bool    `json:"force"`
	Model      string  `json:"model" validate:"omitempty,max=256"`
}

// RetryRequest is the body of POST /api/lectures/{id}/retry.
type RetryRequest struct {
	Stage string `json:"stage" validate:"required"`
}

// PipelineResponse reports what a pipeline, bulk or retry request enqueued.
type PipelineResponse = workflow.Result

// CourseListResponse wraps a collection of courses.
type CourseListResponse struct {
	Courses []Course `json:"courses"`
}

// LectureListResponse wraps a collection of lectures.
type LectureListResponse struct {
	Lectures []Lecture `json:"lectures"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Socket frame types sent on the /api/events websocket.
const (
	FrameConnected = "connected"
	FrameEvent     = "event"
)

// SocketFrame is one message on the /api/events websocket. The first frame
// is always FrameConnected carrying the client id.
type SocketFrame struct {
	Type   string        `json:"type"`
	Client string        `json:"client,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
}

// LogsResponse is the body of GET /api/logs. Offset is passed back to read
// the lines that follow.
type LogsResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
