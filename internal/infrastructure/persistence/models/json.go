package models

import (
	"encoding/json"

	"go.uber.org/zap"
)

var modelLogger = zap.L().Named("pricesync.models")

// encodeJSON marshals v, falling back to fallback on error
func encodeJSON(v any, fallback string) string {
	b, err := json.Marshal(v)
	if err != nil {
		modelLogger.Warn("failed to encode JSON column", zap.Error(err))
		return fallback
	}
	return string(b)
}

// decodeJSON unmarshals raw into v. Empty input leaves v untouched.
func decodeJSON(raw string, v any, column string) {
	if raw == "" || raw == "null" {
		return
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		modelLogger.Warn("failed to parse JSON column",
			zap.String("column", column),
			zap.String("raw_json", raw),
			zap.Error(err))
	}
}
