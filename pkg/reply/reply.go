// Package reply extracts structured fields from raw remote-service replies.
// Models wrap their JSON in prose or code fences more often than not, so
// parsing is lenient: everything between the first '{' and the last '}' is
// treated as the object. Parsing is deterministic and never fatal to a run.
package reply

import (
	"encoding/json"
	"strings"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/record"
)

// Sentinel is the placeholder written to every expected output field when a
// reply cannot be parsed.
const Sentinel = "PARSE_ERROR"

// Parse extracts the embedded JSON object from raw reply text and returns
// its fields as a Record. Only fields literally present in the object are
// returned; values are rendered to strings (numbers keep their textual
// form, nested values their compact JSON). A missing brace pair or invalid
// JSON yields a RESPONSE_PARSE error.
func Parse(raw string) (record.Record, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, sdkerrors.NewResponseParseError("reply contains no JSON object", nil)
	}

	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.UseNumber()

	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, sdkerrors.NewResponseParseError("reply JSON is invalid", err)
	}

	rec := record.New()
	for field, value := range parsed {
		rec.Set(field, renderValue(value))
	}
	return rec, nil
}

// SentinelRow returns a Record with every given field set to the Sentinel
// value, the shape a row takes when its reply was unparseable.
func SentinelRow(fields []string) record.Record {
	rec := record.New()
	for _, field := range fields {
		rec.Set(field, Sentinel)
	}
	return rec
}

// renderValue flattens a decoded JSON value to its string form.
func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		// Arrays and nested objects keep their compact JSON rendering.
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
