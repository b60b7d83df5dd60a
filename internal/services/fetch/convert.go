package fetch

import (
	"context"
	"os"

	"lectern/internal/services"
	"lectern/internal/services/ffmpeg"
	"lectern/internal/stage"
	"lectern/internal/workflow"
)

// convert transcodes src to mono opus at dest and returns the media duration
// in seconds. Output goes to a temp path first so dest is never partial.
func (c *Client) convert(ctx context.Context, src, dest string, report workflow.ProgressFunc) (float64, error) {
	tmp := dest + ".part"
	defer os.Remove(tmp)

	var total, position float64
	report(workflow.ProgressUpdate{Phase: stage.PhaseConvert})
	args := convertArgs(src, tmp, c.bitrate)
	err := c.exec.Run(ctx, c.ffmpegBinary, args, func(line string) {
		if d, ok := ffmpeg.ParseDuration(line); ok && total == 0 {
			total = d
			return
		}
		if ffmpeg.IsProgressEnd(line) {
			if total == 0 {
				total = position
			}
			report(workflow.ProgressUpdate{Phase: stage.PhaseConvert, Done: int64(total), Total: int64(total)})
			return
		}
		if pos, ok := ffmpeg.ParseProgress(line); ok {
			position = pos
			update := workflow.ProgressUpdate{Phase: stage.PhaseConvert, Done: int64(pos), Total: int64(total)}
			if update.Total > 0 && update.Done >= update.Total {
				// Left for progress=end so completion is reported once.
				return
			}
			report(update)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, services.Wrap(services.ErrExternalTool, stageName, "convert", "ffmpeg conversion failed", err)
	}
	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "convert", "ffmpeg produced no output", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "convert", "move converted media into place", err)
	}
	if total == 0 {
		total = position
	}
	return total, nil
}

func convertArgs(src, dest, bitrate string) []string {
	if bitrate == "" {
		bitrate = "32k"
	}
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-c:a", "libopus",
		"-b:a", bitrate,
		"-application", "voip",
		"-f", "opus",
		"-progress", "pipe:1",
		"-nostats",
		dest,
	}
}
