// Package dispatch implements the message dispatcher (C5): a registry of
// (key, mask) -> handler entries, invoked in registration order for every
// entry whose key&mask == msg's derived key&mask. It's used twice in this
// repository: keyed on MTI for protocol messages (§4.5) and keyed on
// CAN-ID for inbound frames (§4.6, "analogous to §4.5 but keyed on
// id & mask").
//
// Grounded loosely on the teacher's registry.go (eventloop package) for
// the shape of a mutex-protected slice of registered entries snapshotted
// before a delivery pass, generalised from that file's weak-pointer
// promise bookkeeping to a plain ordered handler list, which is what this
// component actually needs.
package dispatch

import "sync"

// Handler receives dispatched messages of type M.
type Handler[M any] interface {
	Handle(msg M)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[M any] func(msg M)

// Handle implements Handler.
func (f HandlerFunc[M]) Handle(msg M) { f(msg) }

// Registration identifies one Register call, for use with Unregister.
// Handlers are commonly HandlerFunc closures, which Go cannot compare for
// equality, so unlike a (handler, mti, mask) lookup a Registration token
// is what makes Unregister unambiguous and cheap.
type Registration uint64

type entry[M any] struct {
	id        Registration
	key, mask uint32
	handler   Handler[M]
}

// Dispatcher demultiplexes messages of type M by a 32-bit key extracted
// via keyOf (the MTI for protocol messages, the CAN-ID for frames).
// Optionally, beforeDeliver runs once per matching handler before Handle
// is called, used to increment a buffer's refcount per delivery (§4.5:
// "the dispatcher increments refcount per matching delivery").
type Dispatcher[M any] struct {
	mu            sync.Mutex
	entries       []entry[M]
	nextID        Registration
	keyOf         func(M) uint32
	beforeDeliver func(M)
}

// Option configures a Dispatcher at construction.
type Option[M any] func(*Dispatcher[M])

// WithRefOnDeliver sets a hook invoked once per matching handler, before
// Handle, typically to bump a buffer's reference count.
func WithRefOnDeliver[M any](fn func(M)) Option[M] {
	return func(d *Dispatcher[M]) { d.beforeDeliver = fn }
}

// New constructs a Dispatcher keyed by keyOf.
func New[M any](keyOf func(M) uint32, opts ...Option[M]) *Dispatcher[M] {
	d := &Dispatcher[M]{keyOf: keyOf}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds h for messages whose key&mask == mti&mask. Registration
// order is delivery order among handlers that match the same message. The
// returned Registration is idempotent and safe to pass to Unregister; it
// is the only reliable handle back to this entry since handlers are
// commonly closures, which Go cannot compare.
func (d *Dispatcher[M]) Register(h Handler[M], mti, mask uint32) Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.entries = append(d.entries, entry[M]{id: id, key: mti & mask, mask: mask, handler: h})
	return id
}

// Unregister removes the entry identified by id, if still present. A
// handler unregistered while Dispatch is iterating a snapshot still
// receives the in-flight message (Dispatch copies its entry list before
// delivering) but none thereafter, matching §4.5's concurrency guarantee.
// Unregistering an id that is already gone is a no-op.
func (d *Dispatcher[M]) Unregister(id Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.entries {
		if e.id == id {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return
		}
	}
}

// Dispatch delivers msg to every registered handler whose (mti, mask)
// matches msg's derived key, in registration order.
func (d *Dispatcher[M]) Dispatch(msg M) {
	key := d.keyOf(msg)

	d.mu.Lock()
	snapshot := make([]entry[M], len(d.entries))
	copy(snapshot, d.entries)
	d.mu.Unlock()

	for _, e := range snapshot {
		if key&e.mask != e.key {
			continue
		}
		if d.beforeDeliver != nil {
			d.beforeDeliver(msg)
		}
		e.handler.Handle(msg)
	}
}
