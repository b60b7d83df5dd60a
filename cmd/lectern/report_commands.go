package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/apiclient"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List lectures with queued or active stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				lectures, err := client.Queue(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.LectureListResponse{Lectures: lectures})
				}
				if len(lectures) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				headers := append([]string{"ID", "Course", "Title"}, stageHeaders()...)
				rows := make([][]string, 0, len(lectures))
				for _, lecture := range lectures {
					row := []string{
						strconv.FormatInt(lecture.ID, 10),
						strconv.FormatInt(lecture.CourseID, 10),
						truncate(lecture.Title, 40),
					}
					for _, view := range lecture.Stages {
						row = append(row, stageCell(view))
					}
					rows = append(rows, row)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, rows, []columnAlignment{alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show pipeline progress per course and overall",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				report, err := client.Summary(cmd.Context(), recompute)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				renderSummary(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Rebuild summaries from the store instead of the cache")
	return cmd
}

func renderSummary(out io.Writer, report *api.SummaryReport) {
	headers := append([]string{"Course", "Lectures", "No Media", "Errors", "Active", "Media"}, stageHeaders()...)
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}
	for range stageHeaders() {
		aligns = append(aligns, alignRight)
	}
	rows := make([][]string, 0, len(report.Courses)+1)
	for _, course := range report.Courses {
		rows = append(rows, summaryRow(strconv.FormatInt(course.CourseID, 10), course.Summary))
	}
	rows = append(rows, summaryRow("All", report.Global))
	fmt.Fprint(out, renderTable(headers, rows, aligns))
}

func summaryRow(label string, s api.Summary) []string {
	row := []string{
		label,
		strconv.Itoa(s.Total),
		strconv.Itoa(s.NoMedia),
		strconv.Itoa(s.Errors),
		strconv.Itoa(s.InProgress),
		formatSeconds(s.DurationSeconds),
	}
	for _, progress := range s.Stages {
		row = append(row, progressCell(progress, s.Eligible))
	}
	return row
}

func newStorageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "storage",
		Short: "Show disk usage of media, frames and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				stats, err := client.Storage(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Media", formatBytes(stats.MediaBytes)},
					{"Frames", formatBytes(stats.FramesBytes)},
					{"Database", formatBytes(stats.DatabaseBytes)},
				}
				if stats.DiskTotal > 0 {
					rows = append(rows,
						[]string{"Disk free", formatBytes(int64(stats.DiskFree))},
						[]string{"Disk total", formatBytes(int64(stats.DiskTotal))},
					)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Area", "Size"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
