package db

import (
	"encoding/json"
	"log/slog"
)

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("encoding json column", "error", err)
		return "null"
	}
	return string(b)
}

// decodeJSON returns fallback when raw is empty or malformed.
func decodeJSON[T any](raw, column string, fallback T) T {
	if raw == "" {
		return fallback
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		slog.Warn("malformed json column", "column", column, "error", err)
		return fallback
	}
	return v
}
