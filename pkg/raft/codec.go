package raft

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// Serializer encodes and decodes the RPC records for wire transmission.
// Encoding is pluggable (§6); Transport implementations accept one and use
// it to turn RequestVoteArgs etc. into bytes and back.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// JSONSerializer is the default Serializer, matching the teacher's own
// reach for encoding/json on every internal record (pkg/manager/fsm.go's
// Command, pkg/storage/boltdb.go's per-bucket records).
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (JSONSerializer) Name() string                               { return "json" }

// GobSerializer is a second Serializer demonstrating that the wire format
// is genuinely pluggable without reaching for an unproven dependency.
type GobSerializer struct{}

func (GobSerializer) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobSerializer) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (GobSerializer) Name() string { return "gob" }
