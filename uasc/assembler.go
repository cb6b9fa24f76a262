// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"github.com/gammazero/deque"
	"github.com/nagarsumit/milo/ua"
)

// ChunkAssembler accumulates the 'C' (intermediate) chunks of one message
// until a 'F' (final) chunk completes it, or an 'A' (abort) chunk cancels it.
// It enforces the local receive limits negotiated in Hello/Acknowledge so a
// misbehaving or malicious peer can't grow a message without bound.
type ChunkAssembler struct {
	maxChunkCount uint32
	maxChunkSize  uint32
	parts         deque.Deque[[]byte]
	chunkCount    uint32
	byteCount     int
	requestID     uint32
	started       bool
}

// NewChunkAssembler returns an assembler enforcing the given limits.
// maxChunkCount bounds the number of chunks in one message; maxChunkSize
// bounds the size of any single chunk's body. A zero limit means unbounded.
func NewChunkAssembler(maxChunkCount, maxChunkSize uint32) *ChunkAssembler {
	return &ChunkAssembler{maxChunkCount: maxChunkCount, maxChunkSize: maxChunkSize}
}

// Reset discards any partially-assembled message, for reuse after a
// completed message, an abort, or an error.
func (a *ChunkAssembler) Reset() {
	a.parts.Clear()
	a.chunkCount = 0
	a.byteCount = 0
	a.started = false
}

// AddChunk appends one chunk's decrypted, unpadded body to the in-progress
// message. It returns done=true when chunkType is the final chunk, at which
// point Bytes returns the complete message body.
func (a *ChunkAssembler) AddChunk(requestID uint32, chunkType byte, body []byte) (done bool, err error) {
	if a.maxChunkSize > 0 && uint32(len(body)) > a.maxChunkSize {
		a.Reset()
		return false, ua.BadTCPMessageTooLarge
	}

	if !a.started {
		a.requestID = requestID
		a.started = true
	} else if requestID != a.requestID {
		a.Reset()
		return false, ua.BadSecurityChecksFailed
	}

	a.chunkCount++
	if a.maxChunkCount > 0 && a.chunkCount > a.maxChunkCount {
		a.Reset()
		return false, ua.BadTCPMessageTooLarge
	}
	a.byteCount += len(body)

	switch chunkType {
	case ua.ChunkTypeAbort:
		a.Reset()
		return false, ua.BadUnexpectedError
	case ua.ChunkTypeIntermediate:
		a.parts.PushBack(append([]byte(nil), body...))
		return false, nil
	case ua.ChunkTypeFinal:
		a.parts.PushBack(append([]byte(nil), body...))
		return true, nil
	default:
		a.Reset()
		return false, ua.BadTCPMessageTypeInvalid
	}
}

// RequestID returns the request id the in-progress message was started with.
func (a *ChunkAssembler) RequestID() uint32 { return a.requestID }

// Bytes concatenates every chunk body accumulated so far, in arrival order,
// and resets the assembler for the next message.
func (a *ChunkAssembler) Bytes() []byte {
	total := a.byteCount
	out := make([]byte, 0, total)
	for a.parts.Len() > 0 {
		out = append(out, a.parts.Front()...)
		a.parts.PopFront()
	}
	a.Reset()
	return out
}
