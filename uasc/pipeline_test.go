// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc_test

import (
	"bytes"
	"testing"

	"github.com/nagarsumit/milo/ua"
	"github.com/nagarsumit/milo/uasc"
	"gotest.tools/assert"
)

func newNonePipeline() *uasc.ChannelCrypto {
	policy, _ := ua.NewSecurityPolicy(ua.SecurityPolicyURINone)
	return &uasc.ChannelCrypto{
		SecurityPolicyURI: ua.SecurityPolicyURINone,
		SecurityPolicy:    policy,
		SecurityMode:      ua.MessageSecurityModeNone,
		SendBufferSize:    8192,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     64,
	}
}

func TestEncodeDecodeAsymmetricRoundTripUnsecured(t *testing.T) {
	crypto := newNonePipeline()
	body := []byte("open secure channel request body")

	buf := &bytes.Buffer{}
	err := crypto.EncodeAsymmetric(buf, ua.MessageTypeOpenFinal, 0, 7, 11, body)
	assert.NilError(t, err)

	gotBody, seq, reqID, header, err := crypto.DecodeAsymmetric(buf.Bytes())
	assert.NilError(t, err)
	assert.DeepEqual(t, gotBody, body)
	assert.Equal(t, seq, uint32(7))
	assert.Equal(t, reqID, uint32(11))
	assert.Equal(t, header.PolicyURI, ua.SecurityPolicyURINone)
}

func TestEncodeDecodeSymmetricRoundTripUnsecured(t *testing.T) {
	crypto := newNonePipeline()
	tok := &uasc.SecurityToken{}
	tok.TokenID = 3

	body := []byte("read request body")
	buf := &bytes.Buffer{}
	err := crypto.EncodeSymmetric(buf, "MSG", 99, tok, 5, 6, body)
	assert.NilError(t, err)

	gotBody, seq, reqID, chunkType, err := crypto.DecodeSymmetric(buf.Bytes(), tok)
	assert.NilError(t, err)
	assert.DeepEqual(t, gotBody, body)
	assert.Equal(t, seq, uint32(5))
	assert.Equal(t, reqID, uint32(6))
	assert.Equal(t, chunkType, ua.ChunkTypeFinal)
}

func TestEncodeSymmetricSplitsAcrossMultipleChunksWhenBodyExceedsBuffer(t *testing.T) {
	crypto := newNonePipeline()
	crypto.SendBufferSize = 64
	tok := &uasc.SecurityToken{}
	tok.TokenID = 1

	body := bytes.Repeat([]byte("x"), 500)
	buf := &bytes.Buffer{}
	err := crypto.EncodeSymmetric(buf, "MSG", 1, tok, 1, 1, body)
	assert.NilError(t, err)
	assert.Equal(t, buf.Len() > 64, true)
}

func TestEncodeSymmetricRejectsBodyOverMaxMessageSize(t *testing.T) {
	crypto := newNonePipeline()
	crypto.MaxMessageSize = 1 << 20
	tok := &uasc.SecurityToken{}
	tok.TokenID = 1

	body := bytes.Repeat([]byte("x"), 2<<20)
	buf := &bytes.Buffer{}
	err := crypto.EncodeSymmetric(buf, "MSG", 1, tok, 1, 1, body)
	assert.Equal(t, err, ua.BadRequestTooLarge)
	assert.Equal(t, buf.Len(), 0)
}

func TestEncodeAsymmetricRejectsBodyOverMaxMessageSize(t *testing.T) {
	crypto := newNonePipeline()
	crypto.MaxMessageSize = 1 << 20

	body := bytes.Repeat([]byte("x"), 2<<20)
	buf := &bytes.Buffer{}
	err := crypto.EncodeAsymmetric(buf, ua.MessageTypeOpenFinal, 0, 1, 1, body)
	assert.Equal(t, err, ua.BadRequestTooLarge)
	assert.Equal(t, buf.Len(), 0)
}
