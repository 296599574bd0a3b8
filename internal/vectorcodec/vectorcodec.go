// Package vectorcodec encodes embedding vectors for durable storage.
// The canonical encoding is little-endian float32; a legacy JSON array
// encoding from earlier releases is still decoded transparently so rows
// written by old builds keep working until they are rewritten.
package vectorcodec

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/goccy/go-json"
)

// MinDimensions is the smallest vector length accepted from storage.
// Anything shorter is treated as a corrupt row.
const MinDimensions = 4

// ErrUndecodable means the stored payload is neither binary nor legacy JSON,
// or decodes to a vector below MinDimensions. Callers treat the row as absent.
var ErrUndecodable = errors.New("vectorcodec: undecodable embedding payload")

// Encode serializes a vector in the canonical binary form.
func Encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeBinary decodes a canonical binary payload.
func DecodeBinary(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, ErrUndecodable
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	if len(vec) < MinDimensions {
		return nil, ErrUndecodable
	}
	return vec, nil
}

// DecodeLegacy decodes the legacy JSON array encoding.
func DecodeLegacy(data []byte) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, ErrUndecodable
	}
	if len(vec) < MinDimensions {
		return nil, ErrUndecodable
	}
	return vec, nil
}

// Decode decodes a stored payload, trying binary first and falling back to
// the legacy JSON form. The second return value reports whether the payload
// was legacy-encoded and should be rewritten in binary form.
func Decode(data []byte) ([]float32, bool, error) {
	// A legacy payload always starts with '['. A binary payload whose first
	// byte happens to be '[' would have to encode NaN-scale floats, so the
	// sniff is unambiguous in practice.
	if !looksLegacy(data) {
		if vec, err := DecodeBinary(data); err == nil {
			return vec, false, nil
		}
	}
	vec, err := DecodeLegacy(data)
	if err != nil {
		return nil, false, ErrUndecodable
	}
	return vec, true, nil
}

func looksLegacy(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
