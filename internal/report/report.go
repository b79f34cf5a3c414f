// Package report writes the per-container audit report of a run as a
// Parquet file, one row per processed container.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/anvilprune/anvilprune/internal/prune"
)

// Row is the report schema.
type Row struct {
	RunID           string  `parquet:"run_id"`
	Path            string  `parquet:"path"`
	Outcome         string  `parquet:"outcome"`
	DryRun          bool    `parquet:"dry_run"`
	ChunksScanned   int32   `parquet:"chunks_scanned"`
	ChunksKept      int32   `parquet:"chunks_kept"`
	ChunksDeleted   int32   `parquet:"chunks_deleted"`
	DecodeErrors    int32   `parquet:"decode_errors"`
	ParseErrors     int32   `parquet:"parse_errors"`
	ExternalRemoved int32   `parquet:"external_removed"`
	OriginalSize    int64   `parquet:"original_size"`
	NewSize         int64   `parquet:"new_size"`
	BytesReclaimed  int64   `parquet:"bytes_reclaimed"`
	DurationMicros  int64   `parquet:"duration_us"`
	ErrorKind       *string `parquet:"error_kind,optional"`
	Error           *string `parquet:"error,optional"`
	ProcessedAt     int64   `parquet:"processed_at,timestamp(millisecond)"`
}

// FromResult converts one container result into a report row.
func FromResult(runID string, r prune.Result, at time.Time) Row {
	row := Row{
		RunID:           runID,
		Path:            r.Path,
		Outcome:         r.Outcome.String(),
		DryRun:          r.DryRun,
		ChunksScanned:   int32(r.ChunksScanned),
		ChunksKept:      int32(r.ChunksKept),
		ChunksDeleted:   int32(r.ChunksDeleted),
		DecodeErrors:    int32(r.DecodeErrors),
		ParseErrors:     int32(r.ParseErrors),
		ExternalRemoved: int32(r.ExternalRemoved),
		OriginalSize:    r.OriginalSize,
		NewSize:         r.NewSize,
		BytesReclaimed:  r.BytesReclaimed,
		DurationMicros:  r.Duration.Microseconds(),
		ProcessedAt:     at.UnixMilli(),
	}
	if r.Err != nil {
		kind := prune.KindOf(r.Err).String()
		msg := r.Err.Error()
		row.ErrorKind = &kind
		row.Error = &msg
	}
	return row
}

// Encode writes rows as a zstd-compressed Parquet file to w.
func Encode(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Zstd))
	if len(rows) > 0 {
		n, err := writer.Write(rows)
		if err != nil {
			return fmt.Errorf("report: write rows: %w", err)
		}
		if n != len(rows) {
			return fmt.Errorf("report: wrote %d of %d rows", n, len(rows))
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("report: close: %w", err)
	}
	return nil
}

// Write stores the report for results at path. The file is written next to
// its destination and renamed into place.
func Write(path, runID string, results []prune.Result, at time.Time) error {
	rows := make([]Row, len(results))
	for i, r := range results {
		rows[i] = FromResult(runID, r, at)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer os.Remove(tmp.Name())

	err = Encode(tmp, rows)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Read loads every row of the report at path.
func Read(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return Decode(data)
}

// Decode parses an encoded report.
func Decode(data []byte) ([]Row, error) {
	reader := parquet.NewGenericReader[Row](bytes.NewReader(data))
	defer reader.Close()

	rows := make([]Row, reader.NumRows())
	if len(rows) == 0 {
		return nil, nil
	}
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("report: read rows: %w", err)
	}
	return rows[:n], nil
}
