package store

import (
	"fmt"
	"regexp"
	"strings"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// quoteIdentifier double-quotes a Postgres identifier, escaping any
// embedded quote. Used whenever a table or column name is built from
// caller-supplied strings and interpolated into SQL text, since pgx's
// placeholder binding only covers values, never identifiers.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// validateIdentifier rejects column names that aren't safe bare SQL
// identifiers before they're interpolated into DDL.
func validateIdentifier(name string) error {
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// sensorTableName derives the per-sensor backing table name from its
// id. UUIDs are hex-and-dash only, but the dash isn't a valid bare
// identifier character, so it's replaced before quoting.
func sensorTableName(sensorID string) string {
	return "sensor_" + strings.ReplaceAll(sensorID, "-", "_")
}
