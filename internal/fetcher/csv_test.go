package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCSV_Basic(t *testing.T) {
	input := "ID,Category,Volatility\nIE00B4L5Y983,equity,14.2\nIE00B3F81R35,bonds,4.1\n"
	records, err := Collect(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{}))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 1, records[0].Row)
	assert.Equal(t, map[string]string{"id": "IE00B4L5Y983", "category": "equity", "volatility": "14.2"}, records[0].Fields)
	assert.Equal(t, 2, records[1].Row)
	v, ok := records[1].Get("volatility")
	assert.True(t, ok)
	assert.Equal(t, "4.1", v)
}

func TestStreamCSV_SemicolonDelimited(t *testing.T) {
	input := "id;return_1y\nA;3,5\n"
	records, err := Collect(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: ';'}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "3,5", records[0].Fields["return_1y"])
}

func TestStreamCSV_ShortAndLongRows(t *testing.T) {
	input := "id,a,b\nX,1\nY,1,2,3\n"
	records, err := Collect(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{}))
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, ok := records[0].Get("b")
	assert.False(t, ok)
	assert.Contains(t, records[0].Fields, "b")
	assert.Len(t, records[1].Fields, 3)
}

func TestStreamCSV_TrimSpaceAndComment(t *testing.T) {
	input := "# exported 2025-10-01\n Id , Horizon Years \n C-1 , 20 \n"
	records, err := Collect(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
		Comment:   '#',
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, map[string]string{"id": "C-1", "horizon_years": "20"}, records[0].Fields)
}

func TestStreamCSV_Empty(t *testing.T) {
	records, err := Collect(StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header")
	assert.Empty(t, records)
}

func TestStreamCSV_HeaderOnly(t *testing.T) {
	records, err := Collect(StreamCSV(context.Background(), strings.NewReader("id,volatility\n"), CSVOptions{}))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := "id,name\n1,\"iShares \"Core\" MSCI\"\n"
	_, err := Collect(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{}))
	assert.Error(t, err)

	records, err := Collect(StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{LazyQuotes: true}))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id,v\n")
	for range 10000 {
		sb.WriteString("a,1\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range recCh {
		count++
		if count >= 5 {
			cancel()
			break
		}
	}
	for range recCh { //nolint:revive // drain
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	// Either we get a context cancelled error or the goroutine finished before noticing
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ID", "id"},
		{" Horizon Years ", "horizon_years"},
		{"expense-ratio", "expense_ratio"},
		{"\ufeffid", "id"},
		{"return_1y", "return_1y"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeader(tt.in))
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"etfs.csv", FormatCSV, false},
		{"clients.TSV", FormatCSV, false},
		{"universe.xlsx", FormatXLSX, false},
		{"clients.json", FormatJSON, false},
		{"data.parquet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "etfs.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,volatility\nA, 3.5 \n"), 0o644))
	records, err := Collect(Open(context.Background(), csvPath))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "3.5", records[0].Fields["volatility"])

	tsvPath := filepath.Join(dir, "etfs.tsv")
	require.NoError(t, os.WriteFile(tsvPath, []byte("id\tvolatility\nB\t7\n"), 0o644))
	records, err = Collect(Open(context.Background(), tsvPath))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].Fields["volatility"])

	jsonPath := filepath.Join(dir, "clients.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"id":"C-1","horizon_years":20}]`), 0o644))
	records, err = Collect(Open(context.Background(), jsonPath))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "20", records[0].Fields["horizon_years"])

	_, err = Collect(Open(context.Background(), filepath.Join(dir, "missing.csv")))
	assert.Error(t, err)

	_, err = Collect(Open(context.Background(), filepath.Join(dir, "data.parquet")))
	assert.Error(t, err)
}
