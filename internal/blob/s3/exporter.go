package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// Export formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// DefaultExportPrefix is the key prefix used when none is configured.
const DefaultExportPrefix = "exports"

var csvHeader = []string{
	"ID", "Symbol", "Side", "Order Type", "Leverage", "Size",
	"Entry Price", "Exit Price", "PnL", "PnL %", "Fees",
	"Entry Time", "Exit Time", "Notes",
}

var _ domain.TradeExporter = (*TradeExporter)(nil)

// TradeExporter serialises reconstructed trades and uploads them under
// <prefix>/<wallet>/<timestamp>.<format>.
type TradeExporter struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	format string
	now    func() time.Time
}

// NewTradeExporter creates an exporter. reader may be nil, in which case
// ListExports returns an empty list. An unknown format falls back to CSV.
func NewTradeExporter(writer domain.BlobWriter, reader domain.BlobReader, prefix, format string) *TradeExporter {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultExportPrefix
	}
	if format != FormatJSONL {
		format = FormatCSV
	}
	return &TradeExporter{
		writer: writer,
		reader: reader,
		prefix: prefix,
		format: format,
		now:    time.Now,
	}
}

// WithClock overrides the clock used to name export objects.
func (e *TradeExporter) WithClock(now func() time.Time) *TradeExporter {
	e.now = now
	return e
}

// ExportTrades writes trades for wallet and returns the object key. Payloads
// larger than one multipart part go through the multipart uploader.
func (e *TradeExporter) ExportTrades(ctx context.Context, wallet string, trades []domain.Trade) (string, error) {
	var (
		buf []byte
		err error
	)
	switch e.format {
	case FormatJSONL:
		buf, err = marshalJSONL(trades)
	default:
		buf, err = marshalCSV(trades)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: export %s marshal: %w", wallet, err)
	}

	key := exportPath(e.prefix, wallet, e.now(), e.format)
	if int64(len(buf)) > minPartSize {
		err = e.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = e.writer.Put(ctx, key, bytes.NewReader(buf), contentTypeFor(key))
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: export %s upload: %w", wallet, err)
	}
	return key, nil
}

// ListExports returns the wallet's earlier exports, newest first.
func (e *TradeExporter) ListExports(ctx context.Context, wallet string) ([]domain.BlobInfo, error) {
	if e.reader == nil {
		return []domain.BlobInfo{}, nil
	}
	infos, err := e.reader.List(ctx, e.prefix+"/"+wallet+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list exports %s: %w", wallet, err)
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	slices.SortStableFunc(infos, func(a, b domain.BlobInfo) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
	return infos, nil
}

// exportPath builds the object key for an export.
//
//	exports/<wallet>/20260102T150405Z.csv
func exportPath(prefix, wallet string, at time.Time, format string) string {
	return path.Join(prefix, wallet, at.UTC().Format("20060102T150405Z")+"."+format)
}

// contentTypeFor maps an object key to its MIME type by extension.
func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".csv":
		return "text/csv"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// marshalCSV renders trades with two-decimal numbers and RFC 3339 times.
func marshalCSV(trades []domain.Trade) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range trades {
		row := []string{
			t.ID,
			t.Symbol,
			string(t.Side),
			string(t.OrderKind),
			strconv.Itoa(t.Leverage),
			formatFloat(t.Size),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.PnL),
			formatFloat(t.PnLPercent),
			formatFloat(t.Fees),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			"",
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalJSONL encodes a slice of values as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
