package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

// ─── BackfillRequest.Validate ─────────────────────────────────────────────────

func TestBackfillRequest_Validate_Valid(t *testing.T) {
	req := BackfillRequest{
		Region: "CAISO_NORTH",
		Start:  windowStart,
		End:    windowEnd,
	}
	assert.NoError(t, req.Validate())
}

func TestBackfillRequest_Validate_MissingRegion(t *testing.T) {
	req := BackfillRequest{
		Start: windowStart,
		End:   windowEnd,
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region is required")
}

func TestBackfillRequest_Validate_MissingStart(t *testing.T) {
	req := BackfillRequest{
		Region: "CAISO_NORTH",
		End:    windowEnd,
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start is required")
}

func TestBackfillRequest_Validate_MissingEnd(t *testing.T) {
	req := BackfillRequest{
		Region: "CAISO_NORTH",
		Start:  windowStart,
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end is required")
}

func TestBackfillRequest_Validate_InvertedWindow(t *testing.T) {
	req := BackfillRequest{
		Region: "CAISO_NORTH",
		Start:  windowEnd,
		End:    windowStart,
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start must precede end")
}

func TestBackfillRequest_Validate_EqualBounds(t *testing.T) {
	req := BackfillRequest{
		Region: "CAISO_NORTH",
		Start:  windowStart,
		End:    windowStart,
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start must precede end")
}

// ─── parseWindow ──────────────────────────────────────────────────────────────

func TestParseWindow_Valid(t *testing.T) {
	start, end, err := parseWindow("2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, start.Equal(windowStart))
	assert.True(t, end.Equal(windowEnd))
}

func TestParseWindow_OffsetTimezone(t *testing.T) {
	start, end, err := parseWindow("2024-03-01T05:00:00+05:00", "2024-03-02T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, start.Equal(windowStart))
	assert.True(t, end.Equal(windowEnd))
}

func TestParseWindow_MissingBounds(t *testing.T) {
	_, _, err := parseWindow("", "2024-03-02T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start and end are required")

	_, _, err = parseWindow("2024-03-01T00:00:00Z", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start and end are required")
}

func TestParseWindow_MalformedStart(t *testing.T) {
	_, _, err := parseWindow("03/01/2024", "2024-03-02T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid start")
}

func TestParseWindow_MalformedEnd(t *testing.T) {
	_, _, err := parseWindow("2024-03-01T00:00:00Z", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid end")
}

func TestParseWindow_InvertedWindow(t *testing.T) {
	_, _, err := parseWindow("2024-03-02T00:00:00Z", "2024-03-01T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start must precede end")
}

// ─── toBackfillCommand ────────────────────────────────────────────────────────

func TestToBackfillCommand(t *testing.T) {
	req := BackfillRequest{
		CommandID:   "cmd-7",
		Region:      "ERCOT",
		Start:       windowStart,
		End:         windowEnd,
		RequestedBy: "scheduler",
	}

	cmd := toBackfillCommand(req)

	assert.Equal(t, "cmd-7", cmd.CommandID)
	assert.Equal(t, "ERCOT", cmd.Region)
	assert.True(t, cmd.Start.Equal(windowStart))
	assert.True(t, cmd.End.Equal(windowEnd))
	assert.Equal(t, "scheduler", cmd.RequestedBy)
}

func TestToBackfillCommand_GeneratesID(t *testing.T) {
	cmd := toBackfillCommand(BackfillRequest{Region: "ERCOT", Start: windowStart, End: windowEnd})
	assert.NotEmpty(t, cmd.CommandID)
}
