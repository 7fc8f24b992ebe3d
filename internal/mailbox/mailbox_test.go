package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"dvs-emu-go/internal/types"
)

func frame(idx uint64) types.Frame {
	return types.Frame{Height: 1, Width: 1, Data: []uint8{uint8(idx)}, TimestampUs: float64(idx) * 10, Index: idx}
}

func TestReadBeforePublish(t *testing.T) {
	m := New()
	if _, ok := m.Read(); ok {
		t.Fatalf("Read returned a frame before any publish")
	}
}

func TestReadReturnsLatestTriple(t *testing.T) {
	m := New()
	m.Publish(frame(1))
	m.Publish(frame(2))
	got, ok := m.Read()
	if !ok {
		t.Fatalf("Read returned ok=false")
	}
	if got.Index != 2 || got.TimestampUs != 20 || got.Data[0] != 2 {
		t.Fatalf("unexpected frame: %+v", got)
	}
	again, _ := m.Read()
	if again.Index != got.Index {
		t.Fatalf("second read changed index: %d", again.Index)
	}
}

func TestWaitSkipsStaleIndex(t *testing.T) {
	m := New()
	m.Publish(frame(3))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Wait(ctx, 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait on stale index returned %v, want deadline", err)
	}
}

func TestWaitWakesOnPublish(t *testing.T) {
	m := New()
	done := make(chan types.Frame, 1)
	go func() {
		f, err := m.Wait(context.Background(), 0)
		if err != nil {
			t.Errorf("Wait error: %v", err)
		}
		done <- f
	}()

	time.Sleep(10 * time.Millisecond)
	m.Publish(frame(1))

	select {
	case f := <-done:
		if f.Index != 1 {
			t.Fatalf("got index %d, want 1", f.Index)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not wake on publish")
	}
}

func TestWaitReturnsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Wait(ctx, 0)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after cancel")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	m := New()
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Wait(context.Background(), 0)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	m.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Close")
	}
	m.Publish(frame(1))
	if m.Published() != 0 {
		t.Fatalf("publish after close was accepted")
	}
}

func TestDropsCountUnconsumedOverwrites(t *testing.T) {
	m := New()
	m.Publish(frame(1))
	m.Publish(frame(2))
	m.Publish(frame(3))
	if m.Drops() != 2 {
		t.Fatalf("Drops = %d, want 2", m.Drops())
	}
	if _, err := m.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	m.Publish(frame(4))
	if m.Drops() != 2 {
		t.Fatalf("consumed frame counted as drop: %d", m.Drops())
	}
	if m.Published() != 4 {
		t.Fatalf("Published = %d, want 4", m.Published())
	}
}
