// Package header implements the length-prefixed, JSON-subset
// key-value dictionary exchange that runs once per side after the
// transport (and, when present, the TLS session) is established.
package header

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wireproto/engine/pkg/wireerr"
)

// MaxPayloadSize is the largest encoded payload the wire framing can
// carry: the 4-byte length prefix is unsigned but the spec caps N
// below 65536 regardless.
const MaxPayloadSize = 65535

// Dict is a header dictionary: string keys, string-or-nil values.
type Dict map[string]*string

// Encode serializes d as `u32be N` followed by N bytes of its
// JSON-subset payload. It fails if the payload would exceed
// MaxPayloadSize bytes.
func Encode(d Dict) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, wireerr.Wrap(wireerr.ParseError, "header: encode dictionary", err)
	}
	if len(payload) >= MaxPayloadSize+1 {
		return nil, wireerr.New(wireerr.ParseError,
			fmt.Sprintf("header: payload %d bytes exceeds the %d byte cap", len(payload), MaxPayloadSize))
	}

	out := make([]byte, 4+len(payload))
	putU32BE(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// DecodeFrame parses a length-prefixed frame previously produced by
// Encode. It enforces the grammar restrictions §4.H names that
// encoding/json alone would accept: only string or null values, and
// exactly one object with nothing trailing it.
//
// encoding/json's own whitespace rule (space, tab, CR, LF) is
// narrower than §4.H's, which also permits form-feed and backspace
// between tokens; a peer that pads a frame with those two bytes will
// fail to decode here. Harmless for anything this engine itself
// encodes, since Encode never emits them, but a real fidelity gap
// against the grammar as written.
func DecodeFrame(payload []byte) (Dict, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, wireerr.Wrap(wireerr.ParseError, "header: malformed dictionary", err)
	}
	if dec.More() {
		return nil, wireerr.New(wireerr.ParseError, "header: trailing data after dictionary object")
	}

	d := make(Dict, len(raw))
	for k, v := range raw {
		trimmed := bytes.TrimSpace(v)
		if string(trimmed) == "null" {
			d[k] = nil
			continue
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, wireerr.Wrap(wireerr.ParseError,
				fmt.Sprintf("header: value for key %q is not a string or null", k), err)
		}
		d[k] = &s
	}
	return d, nil
}

func putU32BE(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func getU32BE(p []byte) uint32 {
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}
