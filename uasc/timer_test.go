// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nagarsumit/milo/uasc"
	"gotest.tools/assert"
)

func TestTimerFiresFuncExactlyOnce(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	uasc.AfterFunc(10*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, atomic.LoadInt32(&calls), int32(1))
}

func TestTimerCancelBeforeFirePreventsFunc(t *testing.T) {
	var calls int32
	timer := uasc.AfterFunc(50*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	timer.Cancel()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, atomic.LoadInt32(&calls), int32(0))
}

func TestTimerCancelIsIdempotent(t *testing.T) {
	timer := uasc.AfterFunc(50*time.Millisecond, func() {})
	timer.Cancel()
	timer.Cancel()
}

func TestTimerCancelAfterFireIsNoOp(t *testing.T) {
	done := make(chan struct{})
	timer := uasc.AfterFunc(10*time.Millisecond, func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	timer.Cancel()
}
