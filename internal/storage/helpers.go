package storage

import (
	"database/sql"
	"encoding/json"
	"time"
)

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// encodeJSON converts a value to JSON string
func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "[]", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

// decodeJSON parses a JSON string into a value
func decodeJSON(s string, v interface{}) error {
	if s == "" || s == "[]" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
