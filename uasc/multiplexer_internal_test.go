// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"math"
	"testing"

	"gotest.tools/assert"
)

func TestMultiplexerNextRequestIDPanicsOnOverflow(t *testing.T) {
	m := &Multiplexer{requestID: math.MaxUint32 - 1}
	assert.Equal(t, m.NextRequestID(), uint32(math.MaxUint32))

	defer func() {
		r := recover()
		assert.Assert(t, r != nil)
	}()
	m.NextRequestID()
}

func TestMultiplexerNextSequenceNumberWrapsAndSkipsZero(t *testing.T) {
	m := &Multiplexer{sequenceNumber: math.MaxUint32}
	assert.Equal(t, m.NextSequenceNumber(), uint32(1))
	assert.Equal(t, m.NextSequenceNumber(), uint32(2))
}
