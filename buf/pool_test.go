package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethlong/openmrn/notify"
)

func TestPool_AllocRecyclesOnUnref(t *testing.T) {
	p := NewPool[int](nil)

	a := p.Alloc()
	a.Data = 42
	assert.Equal(t, int32(1), a.Refcount())
	a.Unref()
	assert.Equal(t, 1, p.Free())

	b := p.Alloc()
	assert.Same(t, a, b)
	assert.Equal(t, 0, b.Data)
	assert.Equal(t, 0, p.Free())
}

func TestPool_AllocAsyncServesImmediatelyFromEmptyPool(t *testing.T) {
	p := NewPool[int](nil)

	var got *Buffer[int]
	p.AllocAsync(func(b *Buffer[int]) { got = b })

	require.NotNil(t, got, "AllocAsync must hand back a buffer synchronously even when the free list starts empty")
	assert.Equal(t, 0, p.Waiters())
}

func TestPool_ResetAppliedBeforeReuse(t *testing.T) {
	type payload struct {
		buf []byte
	}
	resetCalls := 0
	p := NewPool[payload](func(pl *payload) {
		resetCalls++
		pl.buf = pl.buf[:0]
	})

	a := p.Alloc()
	a.Data.buf = append(a.Data.buf, 1, 2, 3)
	cap0 := cap(a.Data.buf)
	a.Unref()

	b := p.Alloc()
	assert.Equal(t, 1, resetCalls)
	assert.Empty(t, b.Data.buf)
	assert.Equal(t, cap0, cap(b.Data.buf), "reset should truncate, not discard, the backing array")
}

func TestPool_RefKeepsBufferAliveAcrossMultipleUnrefs(t *testing.T) {
	p := NewPool[int](nil)
	a := p.Alloc()
	a.Ref()
	assert.Equal(t, int32(2), a.Refcount())

	a.Unref()
	assert.Equal(t, 0, p.Free(), "buffer must stay live while a second reference remains")

	a.Unref()
	assert.Equal(t, 1, p.Free())
}

func TestBuffer_FireDoneIsIdempotent(t *testing.T) {
	p := NewPool[int](nil)
	b := p.Alloc()

	calls := 0
	b.SetDone(notify.Func(func() { calls++ }))
	b.FireDone()
	b.FireDone()
	assert.Equal(t, 1, calls)
}
