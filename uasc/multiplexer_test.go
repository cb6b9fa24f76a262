// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc_test

import (
	"testing"

	"github.com/nagarsumit/milo/ua"
	"github.com/nagarsumit/milo/uasc"
	"gotest.tools/assert"
)

func TestMultiplexerNextRequestIDSkipsZero(t *testing.T) {
	m := uasc.NewMultiplexer()
	assert.Equal(t, m.NextRequestID(), uint32(1))
	assert.Equal(t, m.NextRequestID(), uint32(2))
}

func TestMultiplexerNextSequenceNumberSkipsZero(t *testing.T) {
	m := uasc.NewMultiplexer()
	assert.Equal(t, m.NextSequenceNumber(), uint32(1))
	assert.Equal(t, m.NextSequenceNumber(), uint32(2))
}

func TestMultiplexerCompleteDeliversResponse(t *testing.T) {
	m := uasc.NewMultiplexer()
	req := &ua.OpenSecureChannelRequest{}
	ch := m.Register(1, req)

	resp := &ua.OpenSecureChannelResponse{}
	ok := m.Complete(1, resp)
	assert.Equal(t, ok, true)

	result := <-ch
	assert.NilError(t, result.Err)
	assert.Equal(t, result.Response, ua.ServiceResponse(resp))
}

func TestMultiplexerAbortDeliversAbortedError(t *testing.T) {
	m := uasc.NewMultiplexer()
	ch := m.Register(2, &ua.OpenSecureChannelRequest{})

	ok := m.Abort(2, ua.BadTimeout, "handshake timed out")
	assert.Equal(t, ok, true)

	result := <-ch
	assert.Equal(t, result.Response, nil)
	aborted, ok := result.Err.(*ua.AbortedError)
	assert.Equal(t, ok, true)
	assert.Equal(t, aborted.RequestID, uint32(2))
	assert.Equal(t, aborted.Status, ua.BadTimeout)
	assert.Equal(t, aborted.Reason, "handshake timed out")
}

func TestMultiplexerForgetThenCompleteIsNoOp(t *testing.T) {
	m := uasc.NewMultiplexer()
	m.Register(3, &ua.OpenSecureChannelRequest{})
	m.Forget(3)

	ok := m.Complete(3, &ua.OpenSecureChannelResponse{})
	assert.Equal(t, ok, false)
}

func TestMultiplexerCloseAllDeliversErrorToEveryPending(t *testing.T) {
	m := uasc.NewMultiplexer()
	ch1 := m.Register(10, &ua.OpenSecureChannelRequest{})
	ch2 := m.Register(11, &ua.CloseSecureChannelRequest{})

	m.CloseAll(ua.BadConnectionClosed)

	r1 := <-ch1
	r2 := <-ch2
	assert.Equal(t, r1.Err, ua.BadConnectionClosed)
	assert.Equal(t, r2.Err, ua.BadConnectionClosed)

	assert.Equal(t, m.Complete(10, &ua.OpenSecureChannelResponse{}), false)
}
