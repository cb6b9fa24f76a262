// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc_test

import (
	"testing"

	"github.com/nagarsumit/milo/ua"
	"github.com/nagarsumit/milo/uasc"
	"gotest.tools/assert"
)

func TestChunkAssemblerAccumulatesIntermediateChunks(t *testing.T) {
	a := uasc.NewChunkAssembler(0, 0)

	done, err := a.AddChunk(1, ua.ChunkTypeIntermediate, []byte("hello "))
	assert.NilError(t, err)
	assert.Equal(t, done, false)

	done, err = a.AddChunk(1, ua.ChunkTypeFinal, []byte("world"))
	assert.NilError(t, err)
	assert.Equal(t, done, true)

	assert.DeepEqual(t, a.Bytes(), []byte("hello world"))
}

func TestChunkAssemblerSingleFinalChunk(t *testing.T) {
	a := uasc.NewChunkAssembler(0, 0)
	done, err := a.AddChunk(5, ua.ChunkTypeFinal, []byte("solo"))
	assert.NilError(t, err)
	assert.Equal(t, done, true)
	assert.DeepEqual(t, a.Bytes(), []byte("solo"))
}

func TestChunkAssemblerEnforcesMaxChunkCount(t *testing.T) {
	a := uasc.NewChunkAssembler(2, 0)
	_, err := a.AddChunk(1, ua.ChunkTypeIntermediate, []byte("a"))
	assert.NilError(t, err)
	_, err = a.AddChunk(1, ua.ChunkTypeIntermediate, []byte("b"))
	assert.NilError(t, err)
	_, err = a.AddChunk(1, ua.ChunkTypeIntermediate, []byte("c"))
	assert.Equal(t, err, ua.BadTCPMessageTooLarge)
}

func TestChunkAssemblerEnforcesMaxChunkSize(t *testing.T) {
	a := uasc.NewChunkAssembler(0, 4)
	_, err := a.AddChunk(1, ua.ChunkTypeFinal, []byte("too long"))
	assert.Equal(t, err, ua.BadTCPMessageTooLarge)
}

func TestChunkAssemblerRejectsMismatchedRequestID(t *testing.T) {
	a := uasc.NewChunkAssembler(0, 0)
	_, err := a.AddChunk(1, ua.ChunkTypeIntermediate, []byte("a"))
	assert.NilError(t, err)
	_, err = a.AddChunk(2, ua.ChunkTypeFinal, []byte("b"))
	assert.Equal(t, err, ua.BadSecurityChecksFailed)
}

func TestChunkAssemblerResetAfterBytes(t *testing.T) {
	a := uasc.NewChunkAssembler(0, 0)
	_, err := a.AddChunk(1, ua.ChunkTypeFinal, []byte("x"))
	assert.NilError(t, err)
	a.Bytes()

	done, err := a.AddChunk(9, ua.ChunkTypeFinal, []byte("y"))
	assert.NilError(t, err)
	assert.Equal(t, done, true)
	assert.DeepEqual(t, a.Bytes(), []byte("y"))
}
