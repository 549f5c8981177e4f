package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// ActionTradesArchived is the audit action written after each archived month.
const ActionTradesArchived = "archive.trades"

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 64 * 1024 * 1024

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListTradesBefore returns the tenant's trades with exit_time strictly
	// before the cutoff.
	ListTradesBefore(ctx context.Context, tenantID string, before time.Time) ([]domain.Trade, error)
}

// AuditLogger records archive runs in the tenant's audit trail.
type AuditLogger interface {
	Audit(ctx context.Context, tenantID, action string, detail map[string]any) error
}

// ArchiveImpl implements domain.Archiver by exporting a tenant's old trades
// as JSONL, one object per calendar month of exit time:
//
//	archive/<tenant>/trades/2025-01.jsonl
//
// Re-running over the same cutoff rewrites the same objects. Nothing is
// deleted from the ledger.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audit  AuditLogger
	loc    *time.Location
}

// NewArchiver creates an ArchiveImpl. Months are cut in loc.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, audit AuditLogger, loc *time.Location) *ArchiveImpl {
	if loc == nil {
		loc = time.UTC
	}
	return &ArchiveImpl{writer: writer, trades: trades, audit: audit, loc: loc}
}

// ArchiveTrades uploads every trade of tenantID that closed before the cutoff
// and returns how many were written.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	trades, err := a.trades.ListTradesBefore(ctx, tenantID, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.Trade)
	for _, t := range trades {
		month := t.ExitTime.In(a.loc).Format("2006-01")
		byMonth[month] = append(byMonth[month], t)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	slices.Sort(months)

	var count int64
	for _, month := range months {
		batch := byMonth[month]
		buf, err := marshalJSONL(batch)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive trades marshal: %w", err)
		}

		path := archivePath(tenantID, "trades", month)
		if err := a.upload(ctx, path, buf); err != nil {
			return count, fmt.Errorf("s3blob: archive trades upload: %w", err)
		}
		count += int64(len(batch))

		if err := a.audit.Audit(ctx, tenantID, ActionTradesArchived, map[string]any{
			"path":   path,
			"count":  len(batch),
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// ArchivePrefix returns the key prefix holding a tenant's archives.
func ArchivePrefix(tenantID string) string {
	return fmt.Sprintf("archive/%s/", tenantID)
}

func archivePath(tenantID, kind, month string) string {
	return fmt.Sprintf("%s%s/%s.jsonl", ArchivePrefix(tenantID), kind, month)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
