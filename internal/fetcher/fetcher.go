// Package fetcher reads tabular input files (CSV, XLSX, JSON) as a stream of
// header-keyed records.
package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format identifies a tabular file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// Record is one data row keyed by normalized column name.
type Record struct {
	Row    int // 1-based, header excluded
	Fields map[string]string
}

// Get returns a trimmed field value and whether it is present and non-empty.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.Fields[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// NormalizeHeader maps a column title to its record key: trimmed, lower
// case, inner spaces and dashes replaced by underscores.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", eris.Errorf("fetcher: unsupported file type %q", filepath.Ext(path))
}

// Open streams the records of a file, choosing the parser by extension.
// Both channels are closed when processing completes.
func Open(ctx context.Context, path string) (<-chan Record, <-chan error) {
	format, err := DetectFormat(path)
	if err != nil {
		return failed(err)
	}

	switch format {
	case FormatXLSX:
		return StreamXLSX(ctx, path, XLSXOptions{})
	case FormatJSON:
		f, err := os.Open(path)
		if err != nil {
			return failed(eris.Wrapf(err, "fetcher: open %s", path))
		}
		recCh, errCh := StreamJSONRecords(ctx, f)
		return closeAfter(f, recCh, errCh)
	default:
		f, err := os.Open(path)
		if err != nil {
			return failed(eris.Wrapf(err, "fetcher: open %s", path))
		}
		opts := CSVOptions{TrimSpace: true}
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		recCh, errCh := StreamCSV(ctx, f, opts)
		return closeAfter(f, recCh, errCh)
	}
}

// Collect drains both channels and returns every record, or the first error.
func Collect(recCh <-chan Record, errCh <-chan error) ([]Record, error) {
	var records []Record
	for rec := range recCh {
		records = append(records, rec)
	}
	for err := range errCh {
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

func failed(err error) (<-chan Record, <-chan error) {
	recCh := make(chan Record)
	errCh := make(chan error, 1)
	errCh <- err
	close(recCh)
	close(errCh)
	return recCh, errCh
}

// closeAfter forwards both channels and closes f once the producer is done.
func closeAfter(f *os.File, recCh <-chan Record, errCh <-chan error) (<-chan Record, <-chan error) {
	outRec := make(chan Record, 64)
	outErr := make(chan error, 1)
	go func() {
		defer close(outErr)
		defer f.Close() //nolint:errcheck
		for rec := range recCh {
			outRec <- rec
		}
		close(outRec)
		for err := range errCh {
			if err != nil {
				outErr <- err
			}
		}
	}()
	return outRec, outErr
}

func keyed(header, row []string, n int) Record {
	fields := make(map[string]string, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if i < len(row) {
			fields[h] = row[i]
		} else {
			fields[h] = ""
		}
	}
	return Record{Row: n, Fields: fields}
}

func normalizeAll(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = NormalizeHeader(h)
	}
	return out
}
