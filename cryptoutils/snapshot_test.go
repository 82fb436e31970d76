package cryptoutils

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeSnapshot builds a payload in the client wire format:
// [4-byte LE length][JSON body][64-byte signature], base64 encoded.
func encodeSnapshot(t *testing.T, body []byte) string {
	t.Helper()
	raw := make([]byte, 0, snapshotHeaderSize+len(body)+snapshotSignatureSize)
	var header [snapshotHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	raw = append(raw, header[:]...)
	raw = append(raw, body...)
	raw = append(raw, make([]byte, snapshotSignatureSize)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSnapshotTimestamp(t *testing.T) {
	validBody := []byte(`{"timestamp":"2024-01-01T00:00:00Z","items":[{"name":"rice","qty":3}]}`)

	ts, err := SnapshotTimestamp(encodeSnapshot(t, validBody))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ts.UTC())
}

func TestSnapshotTimestampMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "not base64",
			payload: "this is not base64!!!",
		},
		{
			name:    "too short for header and signature",
			payload: base64.StdEncoding.EncodeToString([]byte("short")),
		},
		{
			name: "length field does not match payload",
			payload: func() string {
				raw := make([]byte, snapshotHeaderSize+10+snapshotSignatureSize)
				binary.LittleEndian.PutUint32(raw[:snapshotHeaderSize], 999)
				return base64.StdEncoding.EncodeToString(raw)
			}(),
		},
		{
			name:    "body is not JSON",
			payload: encodeSnapshot(t, []byte("not json at all")),
		},
		{
			name:    "timestamp field missing",
			payload: encodeSnapshot(t, []byte(`{"items":[]}`)),
		},
		{
			name:    "timestamp not ISO-8601",
			payload: encodeSnapshot(t, []byte(`{"timestamp":"yesterday"}`)),
		},
		{
			name:    "empty payload",
			payload: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SnapshotTimestamp(tt.payload)
			assert.ErrorIs(t, err, ErrMalformedSnapshot)
		})
	}
}
