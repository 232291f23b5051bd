// Package tsfmt formats and parses the wire timestamp format used
// across ingest, load and live-push payloads: a naive UTC timestamp
// with millisecond precision and no trailing zone suffix.
package tsfmt

import (
	"fmt"
	"time"
)

// Layout is the Go reference-time layout for the wire format
// %Y-%m-%dT%H:%M:%S%.3f. Note the deliberate absence of "Z" or any
// offset: timestamps are always UTC and always naive on the wire.
const Layout = "2006-01-02T15:04:05.000"

// Format renders t in the wire format, converting to UTC first.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads a wire-format timestamp, returning it as a UTC time.Time.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
