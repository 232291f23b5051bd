package tsfmt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbis-ilm/sensbee/internal/tsfmt"
)

func TestFormat_UTC(t *testing.T) {
	ts := time.Date(2025, 6, 15, 10, 30, 45, 123000000, time.UTC)
	got := tsfmt.Format(ts)
	assert.Equal(t, "2025-06-15T10:30:45.123", got)
}

func TestFormat_NonUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	ts := time.Date(2025, 6, 15, 19, 30, 45, 456000000, loc)
	got := tsfmt.Format(ts)
	assert.Equal(t, "2025-06-15T10:30:45.456", got)
}

func TestFormat_NoTrailingZ(t *testing.T) {
	got := tsfmt.Format(time.Now())
	assert.NotContains(t, got, "Z")
	assert.NotContains(t, got, "+")
}

func TestParse_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 15, 10, 30, 45, 123000000, time.UTC)
	s := tsfmt.Format(ts)
	got, err := tsfmt.Parse(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestParse_RejectsTrailingZ(t *testing.T) {
	_, err := tsfmt.Parse("2025-06-15T10:30:45.123Z")
	assert.Error(t, err)
}

func TestParse_RejectsGarbage(t *testing.T) {
	_, err := tsfmt.Parse("not-a-timestamp")
	assert.Error(t, err)
}
