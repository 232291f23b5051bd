package ingest

import (
	"encoding/json"

	"github.com/dbis-ilm/sensbee/internal/store"
)

// coerce converts a raw JSON value to the declared column type. It
// returns nil (bind SQL NULL) when the JSON value's native kind
// doesn't match the declared type — no numeric-string parsing, per
// the declared-type contract: an INT column only ever accepts a JSON
// number, a STRING column only ever accepts a JSON string.
func coerce(valueType store.ValueType, raw json.RawMessage) any {
	switch valueType {
	case store.ValueTypeInt:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil
		}
		return n
	case store.ValueTypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil
		}
		return f
	case store.ValueTypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return s
	default: // ValueTypeUnknown: pass the value through untyped.
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	}
}
