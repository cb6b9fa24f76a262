// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import (
	"encoding/binary"
	"io"
	"reflect"
	"time"
)

// MessageCodec serializes and deserializes the structured OPC UA messages
// that travel inside a chunk's body. The secure channel core treats it as a
// pluggable collaborator: it never encodes or decodes message fields itself,
// only chunk framing, security headers, and signatures.
type MessageCodec interface {
	WriteMessage(w io.Writer, msg interface{}) error
	ReadMessage(r io.Reader) (interface{}, error)
}

// Binary encoding ids (NodeID, namespace 0, numeric identifier) for the
// handful of message types the secure channel core itself constructs or
// consumes. These are the real DefaultBinary encoding ids from the OPC UA
// node set.
const (
	TypeIDOpenSecureChannelRequest  uint32 = 446
	TypeIDOpenSecureChannelResponse uint32 = 449
	TypeIDCloseSecureChannelRequest uint32 = 452
	TypeIDCloseSecureChannelResponse uint32 = 455
	TypeIDServiceFault              uint32 = 397
)

type codecEntry struct {
	typeID uint32
	encode func(io.Writer, interface{}) error
	decode func(io.Reader) (interface{}, error)
}

// BinaryCodec is the default MessageCodec, encoding message structs as
// NodeID-tagged binary records the way the OPC UA binary encoding does.
// Additional message types can be registered at runtime, which is what
// keeps it "pluggable" rather than a closed switch statement.
type BinaryCodec struct {
	byType   map[reflect.Type]*codecEntry
	byTypeID map[uint32]*codecEntry
}

// NewBinaryCodec constructs a BinaryCodec pre-registered with the message
// types the secure channel handshake and close path need.
func NewBinaryCodec() *BinaryCodec {
	c := &BinaryCodec{
		byType:   make(map[reflect.Type]*codecEntry),
		byTypeID: make(map[uint32]*codecEntry),
	}
	c.Register(TypeIDOpenSecureChannelRequest, reflect.TypeOf(&OpenSecureChannelRequest{}),
		func(w io.Writer, msg interface{}) error { return writeOpenSecureChannelRequest(w, msg.(*OpenSecureChannelRequest)) },
		func(r io.Reader) (interface{}, error) { return readOpenSecureChannelRequest(r) },
	)
	c.Register(TypeIDOpenSecureChannelResponse, reflect.TypeOf(&OpenSecureChannelResponse{}),
		func(w io.Writer, msg interface{}) error { return writeOpenSecureChannelResponse(w, msg.(*OpenSecureChannelResponse)) },
		func(r io.Reader) (interface{}, error) { return readOpenSecureChannelResponse(r) },
	)
	c.Register(TypeIDCloseSecureChannelRequest, reflect.TypeOf(&CloseSecureChannelRequest{}),
		func(w io.Writer, msg interface{}) error { return writeCloseSecureChannelRequest(w, msg.(*CloseSecureChannelRequest)) },
		func(r io.Reader) (interface{}, error) { return readCloseSecureChannelRequest(r) },
	)
	c.Register(TypeIDCloseSecureChannelResponse, reflect.TypeOf(&CloseSecureChannelResponse{}),
		func(w io.Writer, msg interface{}) error { return writeCloseSecureChannelResponse(w, msg.(*CloseSecureChannelResponse)) },
		func(r io.Reader) (interface{}, error) { return readCloseSecureChannelResponse(r) },
	)
	c.Register(TypeIDServiceFault, reflect.TypeOf(&ServiceFault{}),
		func(w io.Writer, msg interface{}) error { return writeServiceFault(w, msg.(*ServiceFault)) },
		func(r io.Reader) (interface{}, error) { return readServiceFault(r) },
	)
	return c
}

// Register adds (or replaces) the encoder/decoder pair for one message type,
// keyed both by its Go type (for encode dispatch) and its binary encoding id
// (for decode dispatch).
func (c *BinaryCodec) Register(typeID uint32, goType reflect.Type,
	encode func(io.Writer, interface{}) error, decode func(io.Reader) (interface{}, error)) {
	e := &codecEntry{typeID: typeID, encode: encode, decode: decode}
	c.byType[goType] = e
	c.byTypeID[typeID] = e
}

// WriteMessage implements MessageCodec.
func (c *BinaryCodec) WriteMessage(w io.Writer, msg interface{}) error {
	e, ok := c.byType[reflect.TypeOf(msg)]
	if !ok {
		return BadEncodingError
	}
	if err := WriteNodeID(w, NewNodeIDNumeric(0, e.typeID)); err != nil {
		return err
	}
	return e.encode(w, msg)
}

// ReadMessage implements MessageCodec.
func (c *BinaryCodec) ReadMessage(r io.Reader) (interface{}, error) {
	var id NodeID
	if err := ReadNodeID(r, &id); err != nil {
		return nil, err
	}
	e, ok := c.byTypeID[id.Numeric()]
	if !ok {
		return nil, BadDecodingError
	}
	return e.decode(r)
}

// --- wire primitives, little-endian, matching the OPC UA binary encoding ---

func WriteUInt32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	if err != nil {
		return BadEncodingError
	}
	return nil
}

func ReadUInt32(r io.Reader, v *uint32) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return BadDecodingError
	}
	*v = binary.LittleEndian.Uint32(b[:])
	return nil
}

func WriteInt32(w io.Writer, v int32) error { return WriteUInt32(w, uint32(v)) }

func ReadInt32(r io.Reader, v *int32) error {
	var u uint32
	if err := ReadUInt32(r, &u); err != nil {
		return err
	}
	*v = int32(u)
	return nil
}

func WriteString(w io.Writer, s string) error {
	if len(s) == 0 {
		return WriteInt32(w, -1)
	}
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return BadEncodingError
	}
	return nil
}

func ReadString(r io.Reader, s *string) error {
	var n int32
	if err := ReadInt32(r, &n); err != nil {
		return err
	}
	if n <= 0 {
		*s = ""
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return BadDecodingError
	}
	*s = string(buf)
	return nil
}

func WriteByteString(w io.Writer, b ByteString) error {
	if b == nil {
		return WriteInt32(w, -1)
	}
	if err := WriteInt32(w, int32(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return BadEncodingError
	}
	return nil
}

func ReadByteString(r io.Reader, b *ByteString) error {
	var n int32
	if err := ReadInt32(r, &n); err != nil {
		return err
	}
	if n < 0 {
		*b = nil
		return nil
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return BadDecodingError
		}
	}
	*b = ByteString(buf)
	return nil
}

const epochOffset int64 = 11644473600 // seconds between 1601-01-01 and 1970-01-01

func WriteDateTime(w io.Writer, t time.Time) error {
	var ticks int64
	if !t.IsZero() {
		ticks = (t.Unix()+epochOffset)*10000000 + int64(t.Nanosecond())/100
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(ticks))
	if _, err := w.Write(b[:]); err != nil {
		return BadEncodingError
	}
	return nil
}

func ReadDateTime(r io.Reader, t *time.Time) error {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return BadDecodingError
	}
	ticks := int64(binary.LittleEndian.Uint64(b[:]))
	if ticks == 0 {
		*t = time.Time{}
		return nil
	}
	secs := ticks/10000000 - epochOffset
	nsecs := (ticks % 10000000) * 100
	*t = time.Unix(secs, nsecs).UTC()
	return nil
}

// WriteNodeID writes the compact two-byte form for small namespace-0
// numeric ids, the four-byte form for namespaces up to 255 with ids up to
// 65535, and the seven-byte full numeric form otherwise. Only numeric
// NodeIDs are supported.
func WriteNodeID(w io.Writer, id NodeID) error {
	if id.IDType() != IDTypeNumeric {
		return BadEncodingError
	}
	ns := id.NamespaceIndex()
	n := id.Numeric()
	switch {
	case ns == 0 && n <= 255:
		if _, err := w.Write([]byte{0x00, byte(n)}); err != nil {
			return BadEncodingError
		}
	case ns <= 255 && n <= 65535:
		var b [4]byte
		b[0] = 0x01
		b[1] = byte(ns)
		binary.LittleEndian.PutUint16(b[2:], uint16(n))
		if _, err := w.Write(b[:]); err != nil {
			return BadEncodingError
		}
	default:
		var b [7]byte
		b[0] = 0x02
		binary.LittleEndian.PutUint16(b[1:], ns)
		binary.LittleEndian.PutUint32(b[3:], n)
		if _, err := w.Write(b[:]); err != nil {
			return BadEncodingError
		}
	}
	return nil
}

// ReadNodeID reads a numeric NodeID in any of the three encodings
// WriteNodeID can produce.
func ReadNodeID(r io.Reader, id *NodeID) error {
	var b0 [1]byte
	if _, err := io.ReadFull(r, b0[:]); err != nil {
		return BadDecodingError
	}
	switch b0[0] {
	case 0x00:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return BadDecodingError
		}
		*id = NewNodeIDNumeric(0, uint32(b[0]))
	case 0x01:
		var b [3]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return BadDecodingError
		}
		ns := uint16(b[0])
		n := binary.LittleEndian.Uint16(b[1:])
		*id = NewNodeIDNumeric(ns, uint32(n))
	case 0x02:
		var b [6]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return BadDecodingError
		}
		ns := binary.LittleEndian.Uint16(b[0:])
		n := binary.LittleEndian.Uint32(b[2:])
		*id = NewNodeIDNumeric(ns, n)
	default:
		return BadDecodingError
	}
	return nil
}
