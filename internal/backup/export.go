// Package backup snapshots the registry as JSONL and ships it to a
// destination such as an S3 bucket.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// Lister yields the records to back up.
type Lister interface {
	ListAll() []model.EventRecord
}

// Destination receives a finished JSONL payload.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// header is the first JSONL line of every snapshot.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RecordCount int       `json:"record_count"`
}

type line struct {
	Type string            `json:"type"`
	Data model.EventRecord `json:"data"`
}

// ExportJSONL writes a header line and then one line per record, sorted by
// id, to w.
func ExportJSONL(ctx context.Context, src Lister, w io.Writer, now time.Time) error {
	recs := src.ListAll()
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	enc := json.NewEncoder(w)
	if err := enc.Encode(header{Version: "1", Type: "header", Timestamp: now.UTC(), RecordCount: len(recs)}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(line{Type: "record", Data: rec}); err != nil {
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Run exports src once and writes the snapshot to every destination.
// Destination failures are joined; the others still receive the payload.
func Run(ctx context.Context, src Lister, now time.Time, dests ...Destination) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, src, &buf, now); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()

	var failed []error
	for i, d := range dests {
		if err := d.Write(ctx, data); err != nil {
			failed = append(failed, fmt.Errorf("destination %d: %w", i, err))
			appLog.Error("backup destination write failed", err, "destination", i)
		}
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	appLog.Info("backup completed", "destinations", len(dests), "bytes", len(data))
	return nil
}
