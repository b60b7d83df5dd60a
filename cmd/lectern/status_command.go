package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/apiclient"
	"lectern/internal/stage"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, workflow and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func renderDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	section := func(title string) {
		for _, line := range renderSectionHeader(title, colorize) {
			fmt.Fprintln(out, line)
		}
	}

	section("Daemon")
	runningKind := statusOK
	if !status.Running {
		runningKind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("Running", runningKind, yesNo(status.Running), colorize))
	fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("API", statusInfo, status.APIBind, colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out)

	wf := status.Workflow
	section("Workflow")
	fmt.Fprintln(out, renderStatusLine("Workers", statusInfo,
		fmt.Sprintf("%d busy of %d, %d queued", wf.Pool.Busy, wf.Pool.Workers, wf.Pool.Queued), colorize))
	fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo,
		fmt.Sprintf("%d completed, %d failed", wf.Pool.Completed, wf.Pool.Failed), colorize))
	if wf.Recovered > 0 {
		fmt.Fprintln(out, renderStatusLine("Recovered", statusWarn, fmt.Sprintf("%d stages reset at start", wf.Recovered), colorize))
	}
	if wf.Events.InboxDropped > 0 {
		fmt.Fprintln(out, renderStatusLine("Events", statusWarn, fmt.Sprintf("%d dropped under load", wf.Events.InboxDropped), colorize))
	}
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, truncate(wf.LastError, 80), colorize))
	}
	for _, health := range wf.StageHealth {
		kind := statusOK
		detail := "ready"
		if !health.Ready {
			kind = statusWarn
			detail = health.Detail
		}
		fmt.Fprintln(out, renderStatusLine(displayName(health.Name), kind, detail, colorize))
	}
	fmt.Fprintln(out)

	section("Dependencies")
	for _, dep := range status.Dependencies {
		kind := statusOK
		detail := dep.Command
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			detail = dep.Detail
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	fmt.Fprintln(out)

	section("Stages")
	fmt.Fprint(out, renderTable(stageCountHeaders(), stageCountRows(wf.StageCounts), stageCountAligns()))
}

var countedStatuses = []stage.Status{
	stage.StatusPending,
	stage.StatusQueued,
	stage.StatusActive,
	stage.StatusDone,
	stage.StatusError,
	stage.StatusNoMedia,
}

func stageCountHeaders() []string {
	headers := []string{"Stage"}
	for _, status := range countedStatuses {
		headers = append(headers, displayName(string(status)))
	}
	return headers
}

func stageCountAligns() []columnAlignment {
	aligns := []columnAlignment{alignLeft}
	for range countedStatuses {
		aligns = append(aligns, alignRight)
	}
	return aligns
}

func stageCountRows(counts map[string]map[string]int) [][]string {
	rows := make([][]string, 0, len(stage.All()))
	for _, name := range stage.All() {
		row := []string{displayName(string(name))}
		for _, status := range countedStatuses {
			row = append(row, strconv.Itoa(counts[string(name)][string(status)]))
		}
		rows = append(rows, row)
	}
	return rows
}
