package can

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethlong/openmrn/buf"
	"github.com/kennethlong/openmrn/dispatch"
	"github.com/kennethlong/openmrn/executor"
)

func TestWriteFlow_DrainsInboxToDriver(t *testing.T) {
	ex := executor.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	driver := NewMemDriver(0)
	wf := NewWriteFlow(ex, driver, 4)

	pool := buf.NewPool[Frame](nil)
	b := pool.Alloc()
	b.Data = Frame{ID: 0x42, DLC: 1}
	wf.Send(b, NormalPriority)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := driver.TakeWritten(); len(frames) > 0 {
			assert.Equal(t, uint32(0x42), frames[0].ID)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("write flow never wrote the frame to the driver")
}

func TestWriteFlow_RetriesAfterWouldBlock(t *testing.T) {
	ex := executor.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	driver := NewMemDriver(1)
	require.NoError(t, driver.WriteFrame(Frame{ID: 0xFF})) // fill capacity first
	wf := NewWriteFlow(ex, driver, 4)

	pool := buf.NewPool[Frame](nil)
	b := pool.Alloc()
	b.Data = Frame{ID: 0x7, DLC: 0}
	wf.Send(b, NormalPriority)

	time.Sleep(20 * time.Millisecond)
	// Only the filler frame is written; draining it frees capacity and fires
	// the writable notify.
	assert.Equal(t, []Frame{{ID: 0xFF}}, driver.TakeWritten(), "write must still be blocked by capacity")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := driver.TakeWritten(); len(frames) > 0 {
			assert.Equal(t, uint32(0x7), frames[0].ID)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("write flow never retried after capacity freed")
}

func TestReadFlow_DispatchesInjectedFrames(t *testing.T) {
	ex := executor.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	driver := NewMemDriver(0)
	pool := buf.NewPool[Frame](nil)
	disp := dispatch.New(FrameKey)

	var mu sync.Mutex
	var got []Frame
	disp.Register(dispatch.HandlerFunc[*buf.Buffer[Frame]](func(b *buf.Buffer[Frame]) {
		mu.Lock()
		got = append(got, b.Data)
		mu.Unlock()
	}), 0, 0)

	rf := NewReadFlow(ex, driver, pool, disp)
	rf.Start()

	driver.InjectFrame(Frame{ID: 0x99, DLC: 2, Data: [8]byte{1, 2}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, uint32(0x99), got[0].ID)
	assert.Equal(t, [8]byte{1, 2}, got[0].Data)
}
