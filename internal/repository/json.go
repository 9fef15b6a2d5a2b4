package repository

import (
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// toJSON marshals a value for a JSONB column, mapping nil to SQL NULL
func toJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

// fromJSON decodes a nullable JSONB column into dst
func fromJSON(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// stringArray never maps to NULL so NOT NULL array columns accept empty input
func stringArray(v []string) interface{} {
	if v == nil {
		v = []string{}
	}
	return pq.Array(v)
}

func int64Array(v []int64) interface{} {
	if v == nil {
		v = []int64{}
	}
	return pq.Array(v)
}
