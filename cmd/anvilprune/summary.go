package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/anvilprune/anvilprune/internal/logging"
	"github.com/anvilprune/anvilprune/internal/prune"
	"github.com/anvilprune/anvilprune/internal/sweep"
)

// keptPercent is the share of scanned chunks that were kept.
func keptPercent(st prune.Stats) float64 {
	if st.ChunksScanned == 0 {
		return 0
	}
	return float64(st.ChunksKept) / float64(st.ChunksScanned) * 100
}

func logSummary(log *logging.Logger, s *sweep.Summary, opts prune.Options) {
	st := s.Stats
	fields := map[string]any{
		"containers":      st.ContainersScanned,
		"rewritten":       st.ContainersRewritten,
		"deleted":         st.ContainersDeleted,
		"unchanged":       st.ContainersUnchanged,
		"failed":          st.ContainersFailed,
		"chunks":          st.ChunksScanned,
		"chunksKept":      st.ChunksKept,
		"chunksDeleted":   st.ChunksDeleted,
		"chunkErrors":     st.ChunkErrors,
		"bytesReclaimed":  st.BytesReclaimed,
		"durationSeconds": s.Duration.Seconds(),
		"dryRun":          opts.DryRun,
	}
	if s.Cancelled {
		fields["skipped"] = s.Skipped
	}
	log.Infof("processing complete", fields)

	for _, r := range s.Results {
		if r.Err != nil {
			log.Errorf("container failed", map[string]any{
				"path":  r.Path,
				"kind":  prune.KindOf(r.Err).String(),
				"error": r.Err.Error(),
			})
		}
	}
}

func printSummary(w io.Writer, s *sweep.Summary, opts prune.Options) {
	st := s.Stats
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if opts.DryRun {
		fmt.Fprintln(tw, "Dry run: no files were changed.")
	}
	fmt.Fprintf(tw, "Containers\t%d scanned\t%d rewritten\t%d deleted\t%d unchanged\t%d failed\n",
		st.ContainersScanned, st.ContainersRewritten, st.ContainersDeleted, st.ContainersUnchanged, st.ContainersFailed)
	fmt.Fprintf(tw, "Chunks\t%d scanned\t%d kept (%.1f%%)\t%d deleted\t%d unreadable\n",
		st.ChunksScanned, st.ChunksKept, keptPercent(st), st.ChunksDeleted, st.ChunkErrors)
	fmt.Fprintf(tw, "Reclaimed\t%s\t%d external files\n", formatBytes(st.BytesReclaimed), st.ExternalRemoved)
	if n := st.ErrorCount(); n > 0 {
		fmt.Fprintf(tw, "Errors\t%d", n)
		for k := range prune.NumErrorKinds {
			if c := st.Errors[k]; c > 0 {
				fmt.Fprintf(tw, "\t%s=%d", prune.ErrorKind(k), c)
			}
		}
		fmt.Fprintln(tw)
	}
	if s.Cancelled {
		fmt.Fprintf(tw, "Cancelled\t%d containers not started\n", s.Skipped)
	}
	fmt.Fprintf(tw, "Elapsed\t%s\n", s.Duration.Round(time.Millisecond))
	tw.Flush()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
