// Package codec converts registry snapshots to and from the persisted blob.
//
// A blob is the JSON object {id: {"w": n, "d": millis}} compressed with zstd
// and encoded as unpadded URL-safe base64, so it can be stored as a cookie
// value without escaping.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/ptw/internal/registry"
	"github.com/klauspost/compress/zstd"
)

// ErrMalformed is returned when a blob cannot be decoded into a valid snapshot.
var ErrMalformed = errors.New("malformed snapshot")

// maxDecodedSize bounds decompression of untrusted blobs.
const maxDecodedSize = 4 << 20

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// Only fails on invalid options.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return decoder
}

// wireRecord uses pointers so missing fields can be told apart from zeros.
type wireRecord struct {
	W *int   `json:"w"`
	D *int64 `json:"d"`
}

// Encode serializes s into a blob. A nil snapshot encodes as {}.
func Encode(s registry.State) (string, error) {
	if s == nil {
		s = registry.State{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	compressed := getEncoder().EncodeAll(raw, make([]byte, 0, len(raw)))
	return base64.RawURLEncoding.EncodeToString(compressed), nil
}

// Decode parses a blob produced by Encode. Every entry must carry a
// non-negative "w" and a positive "d"; anything else fails with ErrMalformed.
func Decode(blob string) (registry.State, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	raw, err := getDecoder().DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
	}

	var wire map[string]wireRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}
	if wire == nil {
		return nil, fmt.Errorf("%w: snapshot is not an object", ErrMalformed)
	}

	out := make(registry.State, len(wire))
	for id, w := range wire {
		rec, err := w.record(id)
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

func (w wireRecord) record(id string) (registry.Record, error) {
	if err := registry.ValidateID(id); err != nil {
		return registry.Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case w.W == nil:
		return registry.Record{}, fmt.Errorf("%w: item %q missing w", ErrMalformed, id)
	case w.D == nil:
		return registry.Record{}, fmt.Errorf("%w: item %q missing d", ErrMalformed, id)
	case *w.W < 0:
		return registry.Record{}, fmt.Errorf("%w: item %q has negative w %d", ErrMalformed, id, *w.W)
	case *w.D <= 0:
		return registry.Record{}, fmt.Errorf("%w: item %q has non-positive d %d", ErrMalformed, id, *w.D)
	}
	return registry.Record{Whispers: *w.W, Updated: *w.D}, nil
}
