// Package buf implements the fixed-type, reference-counted buffer pool
// (C1): Buffer[T] owns one instance of T plus a refcount and an optional
// "done" notification, and Pool[T] hands buffers out synchronously or
// asynchronously and recycles them on refcount zero rather than freeing
// them. This mirrors the Buffer/Pool/BufferBase templates described in
// StateFlow.hxx, generalised from the original's intrusive QMember-linked
// free list to a slice-backed one: Go's GC makes the original's
// pointer-chasing unnecessary, and the executor owns mutation of a
// buffer's data exclusively, so the only place contention matters is the
// pool's own free list and waiter queue.
package buf

import "github.com/kennethlong/openmrn/notify"

// Buffer owns one instance of T, a reference count, and an optional
// completion notification set by whoever is driving an operation to
// completion on the caller's behalf (e.g. the datagram client fires it
// once write_datagram's result is known).
//
// Invariant: refcount >= 1 while any flow or queue holds the buffer. A
// buffer queued in a priority queue counts as one reference held by the
// queue, same as the original.
type Buffer[T any] struct {
	Data     T
	pool     *Pool[T]
	refcount int32
	done     notify.Notifiable
}

// Ref increments the reference count and returns the buffer, mirroring the
// original's ref()/cast_alloc() idiom for handing the same buffer to more
// than one handler.
func (b *Buffer[T]) Ref() *Buffer[T] {
	b.refcount++
	return b
}

// Unref decrements the reference count. At zero the buffer is reset and
// returned to its pool (or handed directly to a waiting allocator).
//
// Refcount arithmetic is never atomic: per the concurrency model, buffer
// ownership only ever changes hands on the executor thread (the driver and
// other interrupt contexts touch only queues and Notifiables, never a
// buffer's refcount directly).
func (b *Buffer[T]) Unref() {
	b.refcount--
	if b.refcount <= 0 {
		b.pool.release(b)
	}
}

// Refcount reports the current reference count, for tests and invariant
// checks (see testable property 1).
func (b *Buffer[T]) Refcount() int32 {
	return b.refcount
}

// SetDone arms the buffer's completion notification. A buffer carries at
// most one pending done-notification; arming a new one before the old one
// fires replaces it.
func (b *Buffer[T]) SetDone(n notify.Notifiable) {
	b.done = n
}

// FireDone fires and clears the done-notification, if any. It is
// idempotent: calling it twice only notifies once.
func (b *Buffer[T]) FireDone() {
	if b.done == nil {
		return
	}
	n := b.done
	b.done = nil
	n.Notify()
}
