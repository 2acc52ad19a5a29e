package codec

import (
	"encoding/base64"
	"testing"

	"github.com/fyrsmithlabs/ptw/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawBlob compresses and encodes arbitrary JSON for negative tests.
func rawBlob(t *testing.T, js string) string {
	t.Helper()
	compressed := getEncoder().EncodeAll([]byte(js), nil)
	return base64.RawURLEncoding.EncodeToString(compressed)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   registry.State
	}{
		{"empty", registry.State{}},
		{"single", registry.State{"X123": {Whispers: 1, Updated: 1700000000000}}},
		{"many", registry.State{
			"a":     {Whispers: 1, Updated: 1},
			"b":     {Whispers: 7, Updated: 1700000000123},
			"long-": {Whispers: 42, Updated: 9999999999999},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := Encode(tt.in)
			require.NoError(t, err)
			assert.NotContains(t, blob, "=")
			assert.NotContains(t, blob, "+")
			assert.NotContains(t, blob, "/")

			out, err := Decode(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestEncode_Nil(t *testing.T) {
	blob, err := Encode(nil)
	require.NoError(t, err)

	out, err := Decode(blob)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "!!!"},
		{"not zstd", base64.RawURLEncoding.EncodeToString([]byte("plain text"))},
		{"not json", rawBlob(t, "{nope")},
		{"array", rawBlob(t, `[1,2]`)},
		{"null", rawBlob(t, `null`)},
		{"missing w", rawBlob(t, `{"a":{"d":5}}`)},
		{"missing d", rawBlob(t, `{"a":{"w":1}}`)},
		{"negative w", rawBlob(t, `{"a":{"w":-1,"d":5}}`)},
		{"zero d", rawBlob(t, `{"a":{"w":1,"d":0}}`)},
		{"string w", rawBlob(t, `{"a":{"w":"1","d":5}}`)},
		{"unknown field", rawBlob(t, `{"a":{"w":1,"d":5,"x":true}}`)},
		{"empty id", rawBlob(t, `{"":{"w":1,"d":5}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
