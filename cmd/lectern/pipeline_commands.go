package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/apiclient"
	"lectern/internal/stage"
	"lectern/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var lectureID, courseID int64
	var all, force, withFrames, noFrames bool
	var fromStage, transcriptModel, notesModel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for a lecture, a course or everything",
		Long: `Run enqueues the first unmet stage of every selected lecture. Later
stages follow automatically as each one completes.

Exactly one of --lecture, --course or --all selects the scope.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildPipelineRequest(lectureID, courseID, all)
			if err != nil {
				return err
			}
			if fromStage != "" {
				name, err := stage.ParseName(fromStage)
				if err != nil {
					return err
				}
				req.FromStage = name
			}
			req.Force = force
			req.TranscriptModel = transcriptModel
			req.NotesModel = notesModel
			switch {
			case withFrames && noFrames:
				return errors.New("--frames and --no-frames are mutually exclusive")
			case cmd.Flags().Changed("frames"):
				req.RunFrames = &withFrames
			case cmd.Flags().Changed("no-frames"):
				disabled := !noFrames
				req.RunFrames = &disabled
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				result, err := client.Pipeline(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printResult(cmd, ctx, result)
			})
		},
	}
	cmd.Flags().Int64VarP(&lectureID, "lecture", "l", 0, "Lecture id")
	cmd.Flags().Int64Var(&courseID, "course", 0, "Course id")
	cmd.Flags().BoolVar(&all, "all", false, "Every registered lecture")
	cmd.Flags().StringVar(&fromStage, "from", "", "Start from this stage (lecture scope with --force)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-run stages that are already done")
	cmd.Flags().BoolVar(&withFrames, "frames", false, "Extract frames after notes")
	cmd.Flags().BoolVar(&noFrames, "no-frames", false, "Skip frame extraction")
	cmd.Flags().StringVar(&transcriptModel, "transcript-model", "", "Transcription model override")
	cmd.Flags().StringVar(&notesModel, "notes-model", "", "Notes model override")
	return cmd
}

func buildPipelineRequest(lectureID, courseID int64, all bool) (workflow.PipelineRequest, error) {
	selected := 0
	for _, set := range []bool{lectureID != 0, courseID != 0, all} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return workflow.PipelineRequest{}, errors.New("choose exactly one of --lecture, --course or --all")
	}
	switch {
	case lectureID != 0:
		return workflow.PipelineRequest{Scope: workflow.ScopeLecture, LectureID: lectureID}, nil
	case courseID != 0:
		return workflow.PipelineRequest{Scope: workflow.ScopeCourse, CourseID: courseID}, nil
	default:
		return workflow.PipelineRequest{Scope: workflow.ScopeGlobal}, nil
	}
}

func newBulkCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var model string

	cmd := &cobra.Command{
		Use:   "bulk <stage> <lecture-id>...",
		Short: "Run one stage for a set of lectures",
		Long: `Bulk enqueues a single stage for each lecture whose dependencies are
met. Unlike run, completed jobs do not chain into later stages.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := stage.ParseName(args[0])
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(args)-1)
			for _, raw := range args[1:] {
				id, err := parseID(raw, "lecture")
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				result, err := client.Bulk(cmd.Context(), name, api.BulkRequest{LectureIDs: ids, Force: force, Model: model})
				if err != nil {
					return err
				}
				return printResult(cmd, ctx, result)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-run the stage where it is already done")
	cmd.Flags().StringVar(&model, "model", "", "Model override for the stage")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <lecture-id> <stage>",
		Short: "Retry a failed stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lecture")
			if err != nil {
				return err
			}
			name, err := stage.ParseName(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				result, err := client.Retry(cmd.Context(), id, name)
				if err != nil {
					return err
				}
				return printResult(cmd, ctx, result)
			})
		},
	}
}

func printResult(cmd *cobra.Command, ctx *commandContext, result *api.PipelineResponse) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, result)
	}
	renderResult(cmd.OutOrStdout(), result)
	return nil
}

func renderResult(out io.Writer, result *api.PipelineResponse) {
	noun := "lectures"
	if result.Enqueued == 1 {
		noun = "lecture"
	}
	fmt.Fprintf(out, "Enqueued %d %s", result.Enqueued, noun)
	if result.Skipped > 0 {
		fmt.Fprintf(out, ", skipped %d", result.Skipped)
	}
	fmt.Fprintln(out)
}
