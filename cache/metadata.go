package cache

import (
	"encoding/json"
	"time"
)

// Metadata describes a value stored through Manager.
type Metadata struct {
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	DataType  string     `json:"data_type"`
	Size      int        `json:"size"`
	Engine    string     `json:"engine"`
}

// envelope is the stored form of a Manager value.
type envelope struct {
	Value    json.RawMessage `json:"value"`
	Metadata Metadata        `json:"metadata"`
}

// dataType classifies an encoded JSON value.
func dataType(raw json.RawMessage) string {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '"':
			return "string"
		case 'n':
			return "null"
		case 't', 'f':
			return "boolean"
		case '[':
			return "array"
		case '{':
			return "object"
		default:
			return "number"
		}
	}
	return "string"
}
