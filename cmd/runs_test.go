package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/etf-advisor/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(1500 * time.Millisecond)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Status:      model.RunStatusComplete,
			ConfigHash:  "f00dfeed0123456789",
			Instruments: 42,
			Clients:     7,
			Warnings:    []model.Warning{{Kind: model.WarningMissingMetric}},
			CreatedAt:   now,
			CompletedAt: &done,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "INSTRUMENTS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-")
	assert.Contains(t, output, "f00dfeed")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "42")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	twoSec := now.Add(2 * time.Second)
	fourSec := now.Add(4 * time.Second)

	runs := []model.Run{
		{ID: "1", Status: model.RunStatusComplete, Instruments: 10, Clients: 2, CreatedAt: now, CompletedAt: &twoSec},
		{ID: "2", Status: model.RunStatusComplete, Instruments: 20, CreatedAt: now, CompletedAt: &fourSec,
			Warnings: []model.Warning{{Kind: model.WarningMalformedRecord}, {Kind: model.WarningMissingMetric}}},
		{ID: "3", Status: model.RunStatusFailed, CreatedAt: now},
		{ID: "4", Status: model.RunStatusRunning, CreatedAt: now},
		{ID: "5", Status: model.RunStatusComplete, Instruments: 99, CreatedAt: now.Add(-48 * time.Hour)},
	}

	s := computeRunStats(runs, now.Add(-time.Hour))
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 2, s.Clients)
	assert.Equal(t, 2, s.Warnings)
	assert.InDelta(t, 3.0, s.AvgDurSecs, 1e-9)
	assert.InDelta(t, 7.5, s.AvgInstruments, 1e-9)

	all := computeRunStats(runs, time.Time{})
	assert.Equal(t, 5, all.Total)
	assert.Equal(t, 3, all.Complete)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil, time.Time{})
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDurSecs)
	assert.Zero(t, s.AvgInstruments)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 3, Complete: 2, Failed: 1, AvgDurSecs: 1.25, AvgInstruments: 12})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "1.250s")
	assert.Contains(t, output, "12.0")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
