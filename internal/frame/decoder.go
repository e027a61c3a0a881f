package frame

import (
	"bytes"
	"encoding/binary"
)

type parseState int

const (
	awaitHeader parseState = iota
	awaitBody
)

// Decoder reassembles frame bodies from an arbitrarily chunked byte stream.
// A Decoder belongs to one connection and is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	state   parseState
	bodyLen int
}

// NewDecoder returns a decoder waiting for a header
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends one delivery from the stream and returns every body completed by it, in order.
//
// A bad magic byte yields a *FramingError together with the bodies decoded before it. All
// buffered bytes are dropped and the next Feed starts on a fresh header.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var bodies [][]byte
	for {
		switch d.state {
		case awaitHeader:
			if len(d.buf) < HeaderSize {
				d.compact()
				return bodies, nil
			}
			if d.buf[0] != Magic {
				err := &FramingError{Got: d.buf[0], Discarded: len(d.buf)}
				d.Reset()
				return bodies, err
			}
			d.bodyLen = int(binary.BigEndian.Uint16(d.buf[3:HeaderSize]))
			d.buf = d.buf[HeaderSize:]
			d.state = awaitBody

		case awaitBody:
			if len(d.buf) < d.bodyLen {
				d.compact()
				return bodies, nil
			}
			bodies = append(bodies, bytes.Clone(d.buf[:d.bodyLen]))
			d.buf = d.buf[d.bodyLen:]
			d.bodyLen = 0
			d.state = awaitHeader
		}
	}
}

// Buffered returns the number of bytes held waiting for the rest of a frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partial frame
func (d *Decoder) Reset() {
	d.buf = nil
	d.state = awaitHeader
	d.bodyLen = 0
}

// compact releases the consumed prefix of the buffer
func (d *Decoder) compact() {
	if len(d.buf) == 0 {
		d.buf = nil
		return
	}
	if cap(d.buf) > 4*len(d.buf) && cap(d.buf) > 4096 {
		d.buf = bytes.Clone(d.buf)
	}
}
