// Package frame implements the length-prefixed framing used on engine control connections.
//
// Every frame is a 5 byte header followed by a UTF-8 JSON body:
//
//	byte 0     magic (0x33)
//	bytes 1-2  reserved, zero on send
//	bytes 3-4  body length, big-endian uint16
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	// Magic is the first byte of every frame header
	Magic byte = 0x33
	// HeaderSize is the fixed header length in bytes
	HeaderSize = 5
	// MaxBodySize is the largest body the 16 bit length field can describe
	MaxBodySize = 0xffff
)

// SizeError is returned by Encode when a body does not fit in one frame
type SizeError struct {
	Size int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("frame body of %d bytes exceeds %d byte limit", e.Size, MaxBodySize)
}

// FramingError reports a header that did not start with Magic.
// The decoder drops everything it held when this is returned.
type FramingError struct {
	Got       byte
	Discarded int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("bad frame magic 0x%02x (discarded %d bytes)", e.Got, e.Discarded)
}

// Encode marshals v as JSON and prefixes it with a frame header.
// Header and body are returned in a single slice so they can be written at once.
func Encode(v any) ([]byte, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal frame body: %w", err)
	}
	// json.Encoder always terminates with a newline
	payload := bytes.TrimSuffix(body.Bytes(), []byte{'\n'})

	return EncodeRaw(payload)
}

// EncodeRaw frames an already serialized body
func EncodeRaw(body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, &SizeError{Size: len(body)}
	}

	out := make([]byte, HeaderSize+len(body))
	out[0] = Magic
	binary.BigEndian.PutUint16(out[3:HeaderSize], uint16(len(body)))
	copy(out[HeaderSize:], body)
	return out, nil
}
