// Copyright 2020 Converter Systems LLC. All rights reserved.

package ua

import (
	"sync"

	"github.com/djherbis/buffer"
)

// DefaultBufferSize is the default size of the local send/receive buffers
// negotiated in Hello/Acknowledge.
const DefaultBufferSize uint32 = 64 * 1024

// DefaultMaxMessageSize is the default cap on an assembled message's size.
const DefaultMaxMessageSize uint32 = 16 * 1024 * 1024

// DefaultMaxChunkCount is the default cap on the number of chunks in one message.
const DefaultMaxChunkCount uint32 = 4 * 1024

// BytesPool hands out scratch byte slices sized for one wire chunk.
var BytesPool = sync.Pool{New: func() interface{} { return make([]byte, DefaultBufferSize) }}

// BufferPool backs the djherbis/buffer partitions used as per-message
// scratch body streams in the encode/decode pipeline.
var BufferPool = buffer.NewMemPoolAt(int64(DefaultBufferSize))
