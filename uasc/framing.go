// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/nagarsumit/milo/ua"
)

// FrameReader reads one chunk at a time off a net.Conn using the two-phase
// pattern the wire format is built for: read the fixed 8-byte header first
// to learn the chunk's total size, then read exactly that many more bytes.
// This avoids ever over-reading past one chunk into the next.
type FrameReader struct {
	conn           net.Conn
	maxMessageSize uint32
}

// NewFrameReader wraps conn. maxMessageSize bounds the messageSize field of
// any single chunk header; a header claiming more is rejected before the
// body is read, so a malicious peer can't force an unbounded allocation.
func NewFrameReader(conn net.Conn, maxMessageSize uint32) *FrameReader {
	return &FrameReader{conn: conn, maxMessageSize: maxMessageSize}
}

// ReadChunk reads one complete chunk (header and body) into buf, growing buf
// if it is too small, and returns the message type word from the header.
func (f *FrameReader) ReadChunk(buf *[]byte) (messageType uint32, chunk []byte, err error) {
	var hdr [ua.TCPHeaderSize]byte
	if _, err := io.ReadFull(f.conn, hdr[:]); err != nil {
		return 0, nil, ua.BadConnectionClosed
	}
	messageType = binary.LittleEndian.Uint32(hdr[0:4])
	messageSize := binary.LittleEndian.Uint32(hdr[4:8])
	if messageSize < ua.TCPHeaderSize {
		return 0, nil, ua.BadTCPMessageTypeInvalid
	}
	if f.maxMessageSize > 0 && messageSize > f.maxMessageSize {
		return 0, nil, ua.BadTCPMessageTooLarge
	}
	if uint32(len(*buf)) < messageSize {
		*buf = make([]byte, messageSize)
	}
	copy(*buf, hdr[:])
	if _, err := io.ReadFull(f.conn, (*buf)[ua.TCPHeaderSize:messageSize]); err != nil {
		return 0, nil, ua.BadConnectionClosed
	}
	return messageType, (*buf)[:messageSize], nil
}
