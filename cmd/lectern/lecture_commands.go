package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/apiclient"
	"lectern/internal/language"
)

func newLectureCommand(ctx *commandContext) *cobra.Command {
	lectureCmd := &cobra.Command{
		Use:     "lecture",
		Aliases: []string{"lectures"},
		Short:   "Register, inspect and remove lectures",
	}
	lectureCmd.AddCommand(newLectureAddCommand(ctx))
	lectureCmd.AddCommand(newLectureShowCommand(ctx))
	lectureCmd.AddCommand(newLectureRemoveCommand(ctx))
	lectureCmd.AddCommand(newLectureTranscriptCommand(ctx))
	lectureCmd.AddCommand(newLectureNotesCommand(ctx))
	lectureCmd.AddCommand(newLectureFramesCommand(ctx))
	return lectureCmd
}

func newLectureAddCommand(ctx *commandContext) *cobra.Command {
	var sourceURL string
	var position int
	var recorded string

	cmd := &cobra.Command{
		Use:   "add <course-id> <title>",
		Short: "Register a lecture under a course",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := parseID(args[0], "course")
			if err != nil {
				return err
			}
			req := api.AddLectureRequest{
				Title:     strings.TrimSpace(strings.Join(args[1:], " ")),
				SourceURL: sourceURL,
				Position:  position,
			}
			if strings.TrimSpace(recorded) != "" {
				at, err := parseRecordedAt(recorded)
				if err != nil {
					return err
				}
				req.RecordedAt = &at
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				lecture, err := client.AddLecture(cmd.Context(), courseID, req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, lecture)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Lecture %d registered: %s\n", lecture.ID, lecture.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceURL, "url", "", "Recording URL or local file path")
	cmd.Flags().IntVar(&position, "position", 0, "Position within the course")
	cmd.Flags().StringVar(&recorded, "recorded", "", "Recording date (YYYY-MM-DD or RFC3339)")
	return cmd
}

func parseRecordedAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if at, err := time.Parse(layout, value); err == nil {
			return at.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid recording date %q", value)
}

func newLectureShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <lecture-id>",
		Short: "Show a lecture's stage states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lecture")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				lecture, err := client.Lecture(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, lecture)
				}
				renderLecture(cmd.OutOrStdout(), lecture, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func renderLecture(out io.Writer, lecture *api.Lecture, colorize bool) {
	for _, line := range renderSectionHeader(fmt.Sprintf("Lecture %d: %s", lecture.ID, lecture.Title), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Course", statusInfo, strconv.FormatInt(lecture.CourseID, 10), colorize))
	if lecture.SourceURL != "" {
		fmt.Fprintln(out, renderStatusLine("Source", statusInfo, lecture.SourceURL, colorize))
	}
	if lecture.RecordedAt != "" {
		recorded := lecture.RecordedAt
		if at := api.ParseTime(recorded); !at.IsZero() {
			recorded = at.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintln(out, renderStatusLine("Recorded", statusInfo, recorded, colorize))
	}
	if lecture.MediaPath != "" {
		fmt.Fprintln(out, renderStatusLine("Media", statusInfo, lecture.MediaPath+" ("+formatSeconds(lecture.DurationSeconds)+")", colorize))
	}
	for _, view := range lecture.Stages {
		detail := view.Label
		if view.Model != "" {
			detail += " [" + view.Model + "]"
		}
		if view.ErrorMessage != "" {
			detail += ": " + view.ErrorMessage
		}
		fmt.Fprintln(out, renderStatusLine(displayName(view.Name), stageStatusKind(view.Status), detail, colorize))
	}
}

func newLectureRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <lecture-id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a lecture and its artifacts",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lecture")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.DeleteLecture(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Lecture %d deleted\n", id)
				return nil
			})
		},
	}
}

func newLectureTranscriptCommand(ctx *commandContext) *cobra.Command {
	var timestamps bool
	cmd := &cobra.Command{
		Use:   "transcript <lecture-id>",
		Short: "Print a lecture's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lecture")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				transcript, err := client.Transcript(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, transcript)
				}
				out := cmd.OutOrStdout()
				if !timestamps || len(transcript.Segments) == 0 {
					fmt.Fprintln(out, transcript.Text)
					return nil
				}
				if transcript.Language != "" {
					fmt.Fprintf(out, "Language: %s\n", language.DisplayName(transcript.Language))
				}
				for _, segment := range transcript.Segments {
					fmt.Fprintf(out, "[%s] %s\n", formatClock(segment.Start), segment.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&timestamps, "timestamps", "t", false, "Prefix each segment with its start time")
	return cmd
}

func newLectureNotesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notes <lecture-id>",
		Short: "Print a lecture's notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lecture")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				notes, err := client.Notes(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, notes)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, strings.TrimRight(notes.Markdown, "\n"))
				if len(notes.KeyMoments) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Key moments:")
					for _, moment := range notes.KeyMoments {
						fmt.Fprintf(out, "  [%s] %s\n", formatClock(moment.Timestamp), moment.Title)
					}
				}
				return nil
			})
		},
	}
}

func newLectureFramesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "frames <lecture-id>",
		Short: "List a lecture's extracted frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "lecture")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				frames, err := client.Frames(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, frames)
				}
				if len(frames.Images) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No frames extracted")
					return nil
				}
				rows := make([][]string, 0, len(frames.Images))
				for _, frame := range frames.Images {
					rows = append(rows, []string{formatClock(frame.Timestamp), frame.Path})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Time", "Path"}, rows, []columnAlignment{alignRight, alignLeft}))
				return nil
			})
		},
	}
}
