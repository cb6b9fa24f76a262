// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/nagarsumit/milo/ua"
	"gotest.tools/assert"
)

func TestOpenSecureChannelRequestRoundTrip(t *testing.T) {
	codec := ua.NewBinaryCodec()
	req := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			RequestHandle: 42,
			Timestamp:     time.Now().Truncate(time.Millisecond),
		},
		ClientProtocolVersion: 0,
		RequestType:           ua.SecurityTokenRequestTypeIssue,
		SecurityMode:          ua.MessageSecurityModeSign,
		ClientNonce:           ua.ByteString([]byte{1, 2, 3, 4}),
		RequestedLifetime:     3600000,
	}

	buf := &bytes.Buffer{}
	assert.NilError(t, codec.WriteMessage(buf, req))

	out, err := codec.ReadMessage(buf)
	assert.NilError(t, err)
	got := out.(*ua.OpenSecureChannelRequest)

	assert.Equal(t, got.RequestHeader.RequestHandle, req.RequestHeader.RequestHandle)
	assert.Equal(t, got.RequestType, req.RequestType)
	assert.Equal(t, got.SecurityMode, req.SecurityMode)
	assert.DeepEqual(t, got.ClientNonce, req.ClientNonce)
	assert.Equal(t, got.RequestedLifetime, req.RequestedLifetime)
}

func TestOpenSecureChannelResponseRoundTrip(t *testing.T) {
	codec := ua.NewBinaryCodec()
	resp := &ua.OpenSecureChannelResponse{
		ResponseHeader:        ua.ResponseHeader{RequestHandle: 42, ServiceResult: ua.Good},
		ServerProtocolVersion: 0,
		SecurityToken: ua.ChannelSecurityToken{
			ChannelID:       7,
			TokenID:         1,
			CreatedAt:       time.Now().Truncate(time.Millisecond),
			RevisedLifetime: 600000,
		},
		ServerNonce: ua.ByteString([]byte{9, 8, 7}),
	}

	buf := &bytes.Buffer{}
	assert.NilError(t, codec.WriteMessage(buf, resp))

	out, err := codec.ReadMessage(buf)
	assert.NilError(t, err)
	got := out.(*ua.OpenSecureChannelResponse)

	assert.Equal(t, got.SecurityToken.ChannelID, resp.SecurityToken.ChannelID)
	assert.Equal(t, got.SecurityToken.TokenID, resp.SecurityToken.TokenID)
	assert.Equal(t, got.SecurityToken.RevisedLifetime, resp.SecurityToken.RevisedLifetime)
	assert.DeepEqual(t, got.ServerNonce, resp.ServerNonce)
}

func TestCloseSecureChannelRoundTrip(t *testing.T) {
	codec := ua.NewBinaryCodec()
	req := &ua.CloseSecureChannelRequest{RequestHeader: ua.RequestHeader{RequestHandle: 5}}

	buf := &bytes.Buffer{}
	assert.NilError(t, codec.WriteMessage(buf, req))

	out, err := codec.ReadMessage(buf)
	assert.NilError(t, err)
	got := out.(*ua.CloseSecureChannelRequest)
	assert.Equal(t, got.RequestHeader.RequestHandle, req.RequestHeader.RequestHandle)
}

func TestServiceFaultCarriesServiceResult(t *testing.T) {
	codec := ua.NewBinaryCodec()
	fault := ua.NewServiceFault(ua.ResponseHeader{RequestHandle: 9, ServiceResult: ua.BadSecurityChecksFailed})

	buf := &bytes.Buffer{}
	assert.NilError(t, codec.WriteMessage(buf, fault))

	out, err := codec.ReadMessage(buf)
	assert.NilError(t, err)
	got := out.(*ua.ServiceFault)
	assert.Equal(t, got.ResponseHeader.ServiceResult, ua.BadSecurityChecksFailed)
}

func TestNodeIDEncodingWidths(t *testing.T) {
	cases := []struct {
		id       ua.NodeID
		byteLen  int
	}{
		{ua.NewNodeIDNumeric(0, 100), 2},
		{ua.NewNodeIDNumeric(1, 1000), 4},
		{ua.NewNodeIDNumeric(5, 100000), 7},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		assert.NilError(t, ua.WriteNodeID(buf, c.id))
		assert.Equal(t, buf.Len(), c.byteLen)

		var out ua.NodeID
		assert.NilError(t, ua.ReadNodeID(buf, &out))
		assert.Equal(t, out.NamespaceIndex(), c.id.NamespaceIndex())
		assert.Equal(t, out.Numeric(), c.id.Numeric())
	}
}

func TestByteStringNullVersusEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	assert.NilError(t, ua.WriteByteString(buf, nil))
	assert.DeepEqual(t, buf.Bytes(), []byte{0xFF, 0xFF, 0xFF, 0xFF})

	var out ua.ByteString
	assert.NilError(t, ua.ReadByteString(buf, &out))
	assert.Equal(t, out == nil, true)
}

func TestDateTimeRoundTrip(t *testing.T) {
	in := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	buf := &bytes.Buffer{}
	assert.NilError(t, ua.WriteDateTime(buf, in))

	var out time.Time
	assert.NilError(t, ua.ReadDateTime(buf, &out))
	assert.Equal(t, out.Equal(in), true)
}
