// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"math"
	"sync"

	"github.com/nagarsumit/milo/ua"
)

// pendingRequest is a request awaiting its response, completed exactly once
// either by a matching response, an abort chunk, or the channel closing.
type pendingRequest struct {
	requestID uint32
	request   ua.ServiceRequest
	responseCh chan PendingResult
}

type PendingResult struct {
	Response ua.ServiceResponse
	Err      error
}

// Multiplexer allocates monotonic request ids and sequence numbers and
// tracks which request id each in-flight request was sent under, so a
// response or abort chunk arriving out of order can still be routed back to
// the caller that is waiting on it.
type Multiplexer struct {
	mu sync.Mutex

	requestID     uint32
	sequenceNumber uint32

	pending map[uint32]*pendingRequest
}

// NewMultiplexer returns an empty Multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{pending: make(map[uint32]*pendingRequest)}
}

// NextRequestID returns the next request id in sequence, skipping zero,
// which is reserved to mean "no request" in a few OPC UA header fields.
// Request ids must strictly increase for the lifetime of the channel;
// wrapping back to a value already seen by the peer would let a stale
// response collide with a live request, so exhausting the id space is a
// fatal condition rather than something to paper over by wrapping.
func (m *Multiplexer) NextRequestID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requestID == math.MaxUint32 {
		panic("uasc: request id space exhausted")
	}
	m.requestID++
	return m.requestID
}

// NextSequenceNumber returns the next sequence number in sequence, skipping
// zero, for the next chunk written to the wire.
func (m *Multiplexer) NextSequenceNumber() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sequenceNumber == math.MaxUint32 {
		m.sequenceNumber = 0
	}
	m.sequenceNumber++
	return m.sequenceNumber
}

// Register records a request as pending under requestID and returns a
// channel that receives exactly one result: the matching response, or an
// error if the request is aborted or the channel closes first.
func (m *Multiplexer) Register(requestID uint32, req ua.ServiceRequest) <-chan PendingResult {
	ch := make(chan PendingResult, 1)
	p := &pendingRequest{requestID: requestID, request: req, responseCh: ch}
	m.mu.Lock()
	m.pending[requestID] = p
	m.mu.Unlock()
	return ch
}

// Forget removes a pending request without completing it, used when a
// caller gives up waiting (e.g. its context was cancelled).
func (m *Multiplexer) Forget(requestID uint32) {
	m.mu.Lock()
	delete(m.pending, requestID)
	m.mu.Unlock()
}

// Complete delivers res to the pending request registered under
// requestID, if any such request is still pending.
// Unmatched responses are not an error: the request may have already timed
// out and been forgotten.
func (m *Multiplexer) Complete(requestID uint32, res ua.ServiceResponse) bool {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.responseCh <- PendingResult{Response: res}
	return true
}

// Abort delivers an AbortedError to the pending request with the given
// request id, if one is still pending.
func (m *Multiplexer) Abort(requestID uint32, status ua.StatusCode, reason string) bool {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.responseCh <- PendingResult{Err: &ua.AbortedError{RequestID: requestID, Status: status, Reason: reason}}
	return true
}

// CloseAll completes every still-pending request with err, used when the
// channel itself fails or closes out from under them.
func (m *Multiplexer) CloseAll(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint32]*pendingRequest)
	m.mu.Unlock()
	for _, p := range pending {
		p.responseCh <- PendingResult{Err: err}
	}
}
