// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/nagarsumit/milo/ua"
	"gotest.tools/assert"
)

// newPipeChannel builds a SecureChannel wired to one end of an in-memory
// net.Pipe with its reader goroutine already running, standing in for the
// dialed TCP socket a real Open would create. Security mode is None, which
// is enough to exercise handshake, multiplexing, and close without needing
// certificates.
func newPipeChannel(t *testing.T) (*SecureChannel, net.Conn) {
	t.Helper()
	policy, err := ua.NewSecurityPolicy(ua.SecurityPolicyURINone)
	assert.NilError(t, err)

	client, server := net.Pipe()

	ch := &SecureChannel{
		endpointURL:            "opc.tcp://localhost:4840",
		securityPolicyURI:      ua.SecurityPolicyURINone,
		securityPolicy:         policy,
		securityMode:           ua.MessageSecurityModeNone,
		serverHostname:         "localhost",
		connectTimeout:         time.Second,
		requestTimeout:         time.Second,
		tokenRequestedLifetime: 60000,
		codec:                  ua.NewBinaryCodec(),
		mux:                    NewMultiplexer(),
		pool:                   workerpool.New(4),
		state:                  StateOpening,
		conn:                   client,
		closed:                 make(chan struct{}),
	}
	ch.crypto = &ChannelCrypto{
		SecurityPolicyURI: ua.SecurityPolicyURINone,
		SecurityPolicy:    policy,
		SecurityMode:      ua.MessageSecurityModeNone,
		SendBufferSize:    ua.DefaultBufferSize,
		MaxMessageSize:    ua.DefaultMaxMessageSize,
		MaxChunkCount:     ua.DefaultMaxChunkCount,
	}
	go ch.readLoop()
	t.Cleanup(func() {
		ch.shutdown(ua.BadConnectionClosed)
		server.Close()
	})
	return ch, server
}

// respondToOpenSecureChannel reads one OpenSecureChannel request off conn
// and, after delay, replies with a response carrying the given channel id,
// token id, and revised lifetime. Errors are swallowed rather than reported
// through t: it runs on its own goroutine, and a missing response already
// surfaces as a clear failure on the caller awaiting the handshake.
func respondToOpenSecureChannel(conn net.Conn, crypto *ChannelCrypto, delay time.Duration, channelID, tokenID, revisedLifetime uint32) {
	reader := NewFrameReader(conn, ua.DefaultBufferSize)
	buf := make([]byte, ua.DefaultBufferSize)
	_, chunk, err := reader.ReadChunk(&buf)
	if err != nil {
		return
	}
	body, _, requestID, _, err := crypto.DecodeAsymmetric(chunk)
	if err != nil {
		return
	}
	msg, err := ua.NewBinaryCodec().ReadMessage(bytes.NewReader(body))
	if err != nil {
		return
	}
	req, ok := msg.(*ua.OpenSecureChannelRequest)
	if !ok {
		return
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	resp := &ua.OpenSecureChannelResponse{
		ResponseHeader:        ua.ResponseHeader{RequestHandle: req.RequestHeader.RequestHandle, Timestamp: time.Now()},
		ServerProtocolVersion: protocolVersion,
		SecurityToken: ua.ChannelSecurityToken{
			ChannelID:       channelID,
			TokenID:         tokenID,
			CreatedAt:       time.Now(),
			RevisedLifetime: revisedLifetime,
		},
	}
	var respBody bytes.Buffer
	if err := ua.NewBinaryCodec().WriteMessage(&respBody, resp); err != nil {
		return
	}
	_ = crypto.EncodeAsymmetric(conn, ua.MessageTypeOpenFinal, channelID, 1, requestID, respBody.Bytes())
}

// writeAbortChunk writes a raw MSG abort chunk, the wire shape a server uses
// to cancel a request it can no longer complete.
func writeAbortChunk(w io.Writer, tokenID, requestID uint32, status ua.StatusCode, reason string) {
	var body bytes.Buffer
	ua.WriteUInt32(&body, uint32(status))
	ua.WriteUInt32(&body, uint32(len(reason)))
	body.WriteString(reason)

	chunkSize := 16 + ua.SequenceHeaderSize + body.Len()

	bw := &byteWriter{}
	ua.WriteUInt32(bw, ua.MessageTypeAbort)
	ua.WriteUInt32(bw, uint32(chunkSize))
	ua.WriteUInt32(bw, 0)
	ua.WriteUInt32(bw, tokenID)
	ua.WriteUInt32(bw, 1)
	ua.WriteUInt32(bw, requestID)
	bw.Write(body.Bytes())
	w.Write(bw.Bytes())
}

// S1: the initial OpenSecureChannel handshake returns the token the server
// issued.
func TestIssueSecureChannelHandshake(t *testing.T) {
	ch, server := newPipeChannel(t)
	go respondToOpenSecureChannel(server, ch.crypto, 0, 7, 1, 60000)

	tok, err := ch.issueSecureChannel()
	assert.NilError(t, err)
	assert.Equal(t, tok.ChannelID, uint32(7))
	assert.Equal(t, tok.TokenID, uint32(1))
	assert.Equal(t, tok.RevisedLifetime, uint32(60000))
}

// S2: a renewal is not bounded by handshakeTimeout, unlike the initial
// issue. Shortening handshakeTimeout and having the server reply after it
// would have already expired proves the renewal path never armed it.
func TestRenewSecureChannelIgnoresHandshakeTimeout(t *testing.T) {
	orig := handshakeTimeout
	handshakeTimeout = 20 * time.Millisecond
	defer func() { handshakeTimeout = orig }()

	ch, server := newPipeChannel(t)
	go respondToOpenSecureChannel(server, ch.crypto, 60*time.Millisecond, 7, 2, 60000)

	tok, err := ch.renewSecureChannel()
	assert.NilError(t, err)
	assert.Equal(t, tok.TokenID, uint32(2))
}

// S4: an abort chunk delivered for a pending request completes it with an
// AbortedError instead of a response.
func TestRequestAbortedByServerReturnsAbortedError(t *testing.T) {
	ch, server := newPipeChannel(t)
	ch.state = StateOpen
	tok := &SecurityToken{ChannelSecurityToken: ua.ChannelSecurityToken{ChannelID: 7, TokenID: 42}}
	ch.tokens.install(tok)

	go func() {
		reader := NewFrameReader(server, ua.DefaultBufferSize)
		buf := make([]byte, ua.DefaultBufferSize)
		_, chunk, err := reader.ReadChunk(&buf)
		if err != nil {
			return
		}
		_, _, requestID, _, err := ch.crypto.DecodeSymmetric(chunk, tok)
		if err != nil {
			return
		}
		writeAbortChunk(server, tok.TokenID, requestID, ua.BadTCPMessageTooLarge, "chunk overflow")
	}()

	_, err := ch.Request(context.Background(), &ua.OpenSecureChannelRequest{})
	aborted, ok := err.(*ua.AbortedError)
	assert.Equal(t, ok, true)
	assert.Equal(t, aborted.Status, ua.BadTCPMessageTooLarge)
	assert.Equal(t, aborted.Reason, "chunk overflow")
}

// S5: the initial handshake fails with Bad_Timeout, not Bad_RequestTimeout,
// when the server never answers.
func TestIssueSecureChannelTimesOut(t *testing.T) {
	orig := handshakeTimeout
	handshakeTimeout = 20 * time.Millisecond
	defer func() { handshakeTimeout = orig }()

	ch, server := newPipeChannel(t)
	go func() {
		reader := NewFrameReader(server, ua.DefaultBufferSize)
		buf := make([]byte, ua.DefaultBufferSize)
		reader.ReadChunk(&buf)
	}()

	_, err := ch.issueSecureChannel()
	assert.Equal(t, err, ua.BadTimeout)
}
