package cryptoutils

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Snapshot payloads are produced by the mobile client and treated as opaque by
// the server except for the embedded timestamp, which anchors the retention
// window of a share. The binary layout after base64 decoding is:
//
//	[4-byte little-endian length N][N bytes of UTF-8 JSON][64-byte signature]
//
// The trailing signature belongs to the client's own end-to-end scheme and is
// not checked here.
const (
	snapshotHeaderSize    = 4
	snapshotSignatureSize = 64
)

// ErrMalformedSnapshot is returned when a snapshot payload does not match the
// expected layout or its JSON body cannot be interpreted.
var ErrMalformedSnapshot = errors.New("malformed snapshot payload")

// SnapshotTimestamp extracts the ISO-8601 timestamp embedded in a
// base64-encoded snapshot payload.
//
// Every failure mode (bad base64, length mismatch, invalid JSON, missing or
// unparseable timestamp field) yields ErrMalformedSnapshot; callers fall back
// to the current time, so a client with a broken payload still gets a share
// with a sane retention window.
func SnapshotTimestamp(snapshotB64 string) (time.Time, error) {
	raw, err := base64.StdEncoding.DecodeString(snapshotB64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	if len(raw) < snapshotHeaderSize+snapshotSignatureSize {
		return time.Time{}, fmt.Errorf("%w: payload too short (%d bytes)", ErrMalformedSnapshot, len(raw))
	}

	bodyLen := binary.LittleEndian.Uint32(raw[:snapshotHeaderSize])
	if len(raw) != snapshotHeaderSize+int(bodyLen)+snapshotSignatureSize {
		return time.Time{}, fmt.Errorf("%w: length field %d does not match payload size %d", ErrMalformedSnapshot, bodyLen, len(raw))
	}

	var body struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw[snapshotHeaderSize:snapshotHeaderSize+int(bodyLen)], &body); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	if body.Timestamp == "" {
		return time.Time{}, fmt.Errorf("%w: timestamp field missing", ErrMalformedSnapshot)
	}

	ts, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	return ts, nil
}
