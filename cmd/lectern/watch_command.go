package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lectern/internal/apiclient"
	"lectern/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var courseID int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream pipeline events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if courseID < 0 {
				return fmt.Errorf("invalid course id %d", courseID)
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				stream, err := client.Events(cmd.Context(), courseID)
				if err != nil {
					return err
				}
				defer stream.Close()

				out := cmd.OutOrStdout()
				for {
					evt, err := stream.Next()
					if err != nil {
						if errors.Is(err, apiclient.ErrStreamClosed) || cmd.Context().Err() != nil {
							return nil
						}
						return err
					}
					if ctx.jsonOutput() {
						if err := writeJSON(cmd, evt); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintln(out, formatEvent(evt))
				}
			})
		},
	}
	cmd.Flags().Int64Var(&courseID, "course", 0, "Only show events for this course")
	return cmd
}

func formatEvent(evt events.Event) string {
	var b strings.Builder
	b.WriteString(evt.At.Local().Format("15:04:05"))
	if evt.Gap {
		b.WriteString(" (events dropped, state may be stale)")
	}
	switch evt.Kind {
	case events.KindStage:
		fmt.Fprintf(&b, " lecture %d %s: %s", evt.LectureID, evt.Stage, evt.Label)
		if evt.Error != "" {
			b.WriteString(": " + evt.Error)
		}
	case events.KindProgress:
		fmt.Fprintf(&b, " lecture %d %s", evt.LectureID, evt.Stage)
		if evt.Progress != nil {
			writeProgress(&b, evt.Progress)
		}
	case events.KindMeta:
		fmt.Fprintf(&b, " %s", displayName(evt.Message))
		if evt.LectureID != 0 {
			fmt.Fprintf(&b, " lecture %d", evt.LectureID)
		}
		if evt.CourseID != 0 {
			fmt.Fprintf(&b, " course %d", evt.CourseID)
		}
	default:
		fmt.Fprintf(&b, " %s", evt.Kind)
	}
	return b.String()
}

func writeProgress(w io.Writer, p *events.Progress) {
	if p.Phase != "" {
		fmt.Fprintf(w, " %s", p.Phase)
	}
	if p.Total > 0 {
		fmt.Fprintf(w, " %s/%s (%.0f%%)", formatBytes(p.Done), formatBytes(p.Total), float64(p.Done)*100/float64(p.Total))
	} else {
		fmt.Fprintf(w, " %s", formatBytes(p.Done))
	}
	if p.ETASeconds > 0 {
		fmt.Fprintf(w, " eta %s", formatSeconds(p.ETASeconds))
	}
}
