package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// line is the JSON shape of one stored record.
// Field order is fixed so that encoding is deterministic.
type line struct {
	Address  string  `json:"address"`
	Bytecode *string `json:"bytecode"`
	Block    uint64  `json:"block"`
}

// MarshalLine encodes the record as one newline-terminated JSON line.
func MarshalLine(r Record) ([]byte, error) {
	l := line{Address: r.Address, Block: r.Block}
	if r.Bytecode != nil {
		code := EncodeBytecode(r.Bytecode)
		l.Bytecode = &code
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(l); err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.Address, err)
	}
	return buf.Bytes(), nil
}

// ParseLine decodes one JSON line. A null or missing bytecode yields a Record
// with nil Bytecode; callers decide whether that is fatal.
func ParseLine(data []byte) (Record, error) {
	var l line
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&l); err != nil {
		return Record{}, fmt.Errorf("%w: parse line: %v", ErrIntegrity, err)
	}

	r := Record{Address: l.Address, Block: l.Block}
	if l.Bytecode != nil {
		code, err := ParseBytecode(*l.Bytecode)
		if err != nil {
			return Record{}, err
		}
		r.Bytecode = code
	}
	return r, nil
}

// Size returns the byte size of the record's stored line.
func Size(r Record) (int64, error) {
	b, err := MarshalLine(r)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
