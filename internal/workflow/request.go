package workflow

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"lectern/internal/services"
	"lectern/internal/stage"
)

// Scope selects which lectures a pipeline request covers.
type Scope string

const (
	ScopeLecture Scope = "lecture"
	ScopeCourse  Scope = "course"
	ScopeGlobal  Scope = "global"
	ScopeBulk    Scope = "bulk"
)

// PipelineRequest asks the scheduler to enqueue work.
type PipelineRequest struct {
	Scope      Scope   `json:"scope" validate:"required,oneof=lecture course global bulk"`
	LectureID  int64   `json:"lectureId" validate:"required_if=Scope lecture,gte=0"`
	CourseID   int64   `json:"courseId" validate:"required_if=Scope course,gte=0"`
	LectureIDs []int64 `json:"lectureIds" validate:"required_if=Scope bulk,dive,gt=0"`
	// Stage is the single stage a bulk request targets.
	Stage stage.Name `json:"stage" validate:"omitempty,stage"`
	// FromStage overrides first-unmet-stage detection.
	FromStage       stage.Name `json:"fromStage" validate:"omitempty,stage"`
	Force           bool       `json:"force"`
	RunFrames       *bool      `json:"runFrames"`
	TranscriptModel string     `json:"transcriptModel" validate:"omitempty,max=128"`
	NotesModel      string     `json:"notesModel" validate:"omitempty,max=256"`
	FramesModel     string     `json:"framesModel" validate:"omitempty,max=128"`
}

// Result reports what a request enqueued. Enqueued counts lectures that
// received a new job; Items lists them.
type Result struct {
	Enqueued int     `json:"enqueued"`
	Skipped  int     `json:"skipped"`
	Items    []int64 `json:"items"`
}

func (r *Result) record(lectureID int64, enqueued bool) {
	if enqueued {
		r.Enqueued++
		r.Items = append(r.Items, lectureID)
		return
	}
	r.Skipped++
}

// NewValidator returns a validator with the stage tag registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		return stage.Name(fl.Field().String()).Valid()
	})
	return v
}

// Normalize lowercases selectors and resolves stage aliases such as
// "transcribe". Unknown stage names are left for validation to reject.
func (r *PipelineRequest) Normalize() {
	r.Scope = Scope(strings.ToLower(strings.TrimSpace(string(r.Scope))))
	if name, err := stage.ParseName(string(r.Stage)); err == nil {
		r.Stage = name
	}
	if name, err := stage.ParseName(string(r.FromStage)); err == nil {
		r.FromStage = name
	}
	r.TranscriptModel = strings.ToLower(strings.TrimSpace(r.TranscriptModel))
	r.NotesModel = strings.TrimSpace(r.NotesModel)
	r.FramesModel = strings.TrimSpace(r.FramesModel)
}

// Validate checks field constraints and the cross-field rules that tags
// cannot express. Failures wrap services.ErrValidation.
func (r PipelineRequest) Validate(v *validator.Validate) error {
	if v == nil {
		v = NewValidator()
	}
	if err := v.Struct(r); err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "validate request", "invalid pipeline request", err)
	}
	var problem string
	switch {
	case r.Scope == ScopeBulk && r.Stage == "":
		problem = "bulk requests must name a stage"
	case r.Scope != ScopeBulk && r.Stage != "":
		problem = "stage is only valid for bulk requests; use fromStage"
	case r.Scope == ScopeBulk && r.FromStage != "":
		problem = "fromStage is not valid for bulk requests"
	case r.Scope != ScopeLecture && r.LectureID != 0:
		problem = fmt.Sprintf("lectureId is not valid for %s scope", r.Scope)
	case r.Scope != ScopeCourse && r.CourseID != 0:
		problem = fmt.Sprintf("courseId is not valid for %s scope", r.Scope)
	case r.Scope != ScopeBulk && len(r.LectureIDs) > 0:
		problem = "lectureIds is only valid for bulk requests"
	}
	if problem != "" {
		return services.Wrap(services.ErrValidation, "workflow", "validate request", problem, nil)
	}
	return nil
}
