package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/etf-advisor/internal/model"
)

func TestScoreCommand(t *testing.T) {
	instruments, _ := writeFixtures(t)

	stdout, stderr, err := execute(t, "score", "--instruments", instruments, "--format", "csv")
	require.NoError(t, err)

	assert.Contains(t, stdout, "# Scored instruments")
	assert.Contains(t, stdout, "# Selection")
	assert.Contains(t, stdout, "# Warnings")
	assert.Contains(t, stdout, "malformed_record,ETF99")
	assert.Contains(t, stderr, "Total scored:  9")
	assert.Contains(t, stderr, "warning(s)")
}

func TestScoreCommand_JSONSelectedOnly(t *testing.T) {
	instruments, _ := writeFixtures(t)

	stdout, _, err := execute(t, "score", "--instruments", instruments, "--format", "json", "--top-n", "2", "--selected-only")
	require.NoError(t, err)

	var out scoreOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Len(t, out.Instruments, 6)
	for _, it := range out.Instruments {
		assert.True(t, it.Selected)
		assert.LessOrEqual(t, it.TierRank, 2)
	}
	assert.NotEmpty(t, out.ConfigHash)
	assert.Empty(t, out.RunID)
}

func TestScoreCommand_Errors(t *testing.T) {
	instruments, _ := writeFixtures(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no input", args: []string{"score"}, want: "no instruments table"},
		{name: "missing file", args: []string{"score", "--instruments", filepath.Join(t.TempDir(), "nope.csv")}, want: "read instruments"},
		{name: "bad format", args: []string{"score", "--instruments", instruments, "--format", "pdf"}, want: "unsupported format"},
		{name: "xlsx to stdout", args: []string{"score", "--instruments", instruments, "--format", "xlsx"}, want: "xlsx output needs --output"},
		{name: "bad lang", args: []string{"score", "--instruments", instruments, "--lang", "!!"}, want: "invalid --lang"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScoreCommand_AllRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,volatility\nA,abc\n,3\n"), 0o644))

	_, _, err := execute(t, "score", "--instruments", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid records")
}

func TestAllocateCommand(t *testing.T) {
	_, clients := writeFixtures(t)

	stdout, _, err := execute(t, "allocate", "--clients", clients, "--format", "json")
	require.NoError(t, err)

	var out allocateOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Allocations, 3)
	for _, a := range out.Allocations {
		assert.True(t, a.Sum().Equal(model.Hundred), a.ClientID)
	}
	assert.Equal(t, []string{"C-1", "C-2", "C-3"}, []string{out.Allocations[0].ClientID, out.Allocations[1].ClientID, out.Allocations[2].ClientID})
}

func TestRecommendCommand(t *testing.T) {
	instruments, clients := writeFixtures(t)

	stdout, _, err := execute(t, "recommend", "--instruments", instruments, "--clients", clients, "--format", "json", "--concurrency", "2")
	require.NoError(t, err)

	var out recommendOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Recommendations, 3)
	for i, id := range []string{"C-1", "C-2", "C-3"} {
		rec := out.Recommendations[i]
		assert.Equal(t, id, rec.ClientID)
		assert.InDelta(t, 100, rec.Portfolio.TotalWeight(), 1e-6)
		assert.Len(t, rec.Projection.Points, rec.Profile.HorizonYears*12+1)
	}
	assert.NotEmpty(t, out.Warnings)
}

func TestRecommendCommand_OverridesAndSave(t *testing.T) {
	instruments, clients := writeFixtures(t)
	t.Setenv("ETFADVISOR_STORE_DATABASE_URL", filepath.Join(t.TempDir(), "runs.db"))

	out := filepath.Join(t.TempDir(), "advice.xlsx")
	_, stderr, err := execute(t, "recommend",
		"--instruments", instruments, "--clients", clients,
		"--periods-per-year", "4", "--initial", "1000", "--yearly",
		"--format", "xlsx", "--output", out, "--save")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Saved run ")

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	var sheets []string
	for _, sh := range f.Sheets {
		sheets = append(sheets, sh.Name)
	}
	assert.Equal(t, []string{"Summary", "Allocations", "Portfolios", "Projections", "Warnings"}, sheets)

	runID := strings.TrimSpace(strings.TrimPrefix(stderr[strings.Index(stderr, "Saved run "):], "Saved run "))
	runID = strings.Fields(runID)[0]

	stdout, _, err := execute(t, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, runID[:8])
	assert.Contains(t, stdout, "complete")

	stdout, _, err = execute(t, "runs", "show", runID)
	require.NoError(t, err)
	var run model.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &run))
	assert.Equal(t, 9, run.Instruments)
	assert.Equal(t, 3, run.Clients)

	stdout, _, err = execute(t, "project", "--run", runID, "--client", "C-2", "--format", "json")
	require.NoError(t, err)
	var series model.ProjectionSeries
	require.NoError(t, json.Unmarshal([]byte(stdout), &series))
	assert.Equal(t, 4, series.PeriodsPerYear)
	assert.Len(t, series.Points, 3*4+1)
	assert.InDelta(t, 1000, series.Points[0].Value, 1e-9)

	stdout, _, err = execute(t, "runs", "scored", runID, "--format", "csv", "--columns", "volatility")
	require.NoError(t, err)
	assert.Contains(t, stdout, "id,category,risk_tier,tier_rank,selected,composite_score,volatility")
	assert.Len(t, strings.Split(strings.TrimSpace(stdout), "\n"), 10)

	stdout, _, err = execute(t, "runs", "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Total runs:")
	assert.Contains(t, stdout, "Clients:")

	_, _, err = execute(t, "runs", "show", "missing")
	assert.Error(t, err)
}

func TestRecommendCommand_InvalidOverride(t *testing.T) {
	instruments, clients := writeFixtures(t)

	_, _, err := execute(t, "recommend", "--instruments", instruments, "--clients", clients, "--rate-conversion", "daily")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_conversion")
}

func TestProjectCommand(t *testing.T) {
	instruments, clients := writeFixtures(t)

	stdout, stderr, err := execute(t, "project", "--instruments", instruments, "--clients", clients, "--client", "C-3", "--format", "csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Equal(t, "client_id,period,years,contributed,value", lines[0])
	assert.Len(t, lines, 1+11) // header + start + 10 year ends
	assert.Contains(t, stderr, "Client:         C-3")

	_, _, err = execute(t, "project", "--instruments", instruments, "--clients", clients, "--client", "C-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client C-404 not found")

	_, _, err = execute(t, "project", "--instruments", instruments, "--clients", clients)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client")
}
