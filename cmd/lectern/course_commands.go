package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/apiclient"
)

func newCoursesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List courses with pipeline progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				courses, err := client.Courses(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.CourseListResponse{Courses: courses})
				}
				if len(courses) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No courses registered")
					return nil
				}
				headers := append([]string{"ID", "Title", "Lectures", "Errors"}, stageHeaders()...)
				aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignRight}
				for range stageHeaders() {
					aligns = append(aligns, alignRight)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, courseRows(courses), aligns))
				return nil
			})
		},
	}
}

func courseRows(courses []api.Course) [][]string {
	rows := make([][]string, 0, len(courses))
	for _, course := range courses {
		row := []string{
			strconv.FormatInt(course.ID, 10),
			truncate(course.Title, 48),
			strconv.Itoa(course.Summary.Total),
			strconv.Itoa(course.Summary.Errors),
		}
		for _, progress := range course.Summary.Stages {
			row = append(row, progressCell(progress, course.Summary.Eligible))
		}
		rows = append(rows, row)
	}
	return rows
}

func newCourseCommand(ctx *commandContext) *cobra.Command {
	courseCmd := &cobra.Command{
		Use:   "course",
		Short: "Register, inspect, rename and remove courses",
	}
	courseCmd.AddCommand(newCourseAddCommand(ctx))
	courseCmd.AddCommand(newCourseShowCommand(ctx))
	courseCmd.AddCommand(newCourseRenameCommand(ctx))
	courseCmd.AddCommand(newCourseRemoveCommand(ctx))
	return courseCmd
}

func newCourseAddCommand(ctx *commandContext) *cobra.Command {
	var sourceURL string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Register a course",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			return ctx.withClient(func(client *apiclient.Client) error {
				course, err := client.CreateCourse(cmd.Context(), api.CreateCourseRequest{Title: title, SourceURL: sourceURL})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, course)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Course %d registered: %s\n", course.ID, course.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceURL, "url", "", "Course page URL")
	return cmd
}

func newCourseShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <course-id>",
		Short: "Show a course and its lectures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "course")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				course, err := client.Course(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, course)
				}
				renderCourse(cmd.OutOrStdout(), course, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func newCourseRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <course-id> <title>",
		Short: "Change the title a course is shown under",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "course")
			if err != nil {
				return err
			}
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			return ctx.withClient(func(client *apiclient.Client) error {
				course, err := client.RenameCourse(cmd.Context(), id, api.UpdateCourseRequest{Title: title})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, course)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Course %d renamed: %s\n", course.ID, course.Title)
				return nil
			})
		},
	}
}

func newCourseRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <course-id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a course with all of its lectures",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "course")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				if err := client.DeleteCourse(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Course %d deleted\n", id)
				return nil
			})
		},
	}
}

func renderCourse(out io.Writer, course *api.Course, colorize bool) {
	for _, line := range renderSectionHeader(fmt.Sprintf("Course %d: %s", course.ID, course.Title), colorize) {
		fmt.Fprintln(out, line)
	}
	s := course.Summary
	fmt.Fprintf(out, "%d lectures, %d without media, %d errors, %d in progress, %s of media\n",
		s.Total, s.NoMedia, s.Errors, s.InProgress, formatSeconds(s.DurationSeconds))
	if len(course.Lectures) == 0 {
		return
	}
	headers := append([]string{"ID", "#", "Title", "Length"}, stageHeaders()...)
	rows := make([][]string, 0, len(course.Lectures))
	for _, lecture := range course.Lectures {
		row := []string{
			strconv.FormatInt(lecture.ID, 10),
			strconv.Itoa(lecture.Position),
			truncate(lecture.Title, 40),
			formatSeconds(lecture.DurationSeconds),
		}
		for _, view := range lecture.Stages {
			row = append(row, stageCell(view))
		}
		rows = append(rows, row)
	}
	fmt.Fprint(out, renderTable(headers, rows, []columnAlignment{alignRight, alignRight, alignLeft, alignRight}))
}
