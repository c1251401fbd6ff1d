package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// Archiver periodically moves closed trades older than the retention window
// out of the journal and into object storage as JSONL files. Records are
// deleted from the journal only after the upload succeeds.
type Archiver struct {
	client    *Client
	journal   domain.TradeJournal
	retention time.Duration
	interval  time.Duration

	now func() time.Time

	logger *slog.Logger
}

// NewArchiver creates an Archiver that retains retentionDays of trades in the
// journal and runs every interval.
func NewArchiver(client *Client, journal domain.TradeJournal, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		client:    client,
		journal:   journal,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives once immediately, then on every interval tick until ctx is
// cancelled. Archival failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started",
		slog.Duration("retention", a.retention),
		slog.Duration("interval", a.interval),
	)
	defer a.logger.Info("archiver stopped")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	count, err := a.ArchiveTrades(ctx, a.now().Add(-a.retention))
	if err != nil {
		a.logger.Error("archive run failed", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		a.logger.Info("trades archived", slog.Int64("count", count))
	}
}

// ArchiveTrades uploads every trade closed before the cutoff to
// archive/trades/YYYY-MM.jsonl and then deletes them from the journal. It
// returns the number of trades archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.journal.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(before)
	_, err = a.client.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(path),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		// The upload succeeded, so nothing is lost; the rows go again next
		// run and the re-upload overwrites the same key.
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades delete: %w", err)
	}

	a.logger.Debug("archive uploaded",
		slog.String("path", path),
		slog.Int64("deleted", deleted),
	)
	return int64(len(trades)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/trades/2026-08.jsonl.
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/trades/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
