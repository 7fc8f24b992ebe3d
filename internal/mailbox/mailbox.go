// Package mailbox implements the single-slot frame handoff between a
// capture goroutine and the processing loop.
//
// Publish never blocks and overwrites whatever frame is waiting; a frame
// that is replaced before anyone consumed it is counted as a drop. Readers
// detect new data by the frame index alone.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"dvs-emu-go/internal/types"
)

var ErrClosed = errors.New("mailbox closed")

type Mailbox struct {
	mu        sync.Mutex
	cond      *sync.Cond
	frame     types.Frame
	has       bool
	consumed  uint64
	published uint64
	drops     uint64
	closed    bool
}

func New() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores frame as the latest capture. frame.Data must not be
// modified by the producer afterwards.
func (m *Mailbox) Publish(frame types.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.has && m.frame.Index > m.consumed {
		m.drops++
	}
	m.frame = frame
	m.has = true
	m.published++
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Read returns the latest frame without blocking.
func (m *Mailbox) Read() (types.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return types.Frame{}, false
	}
	m.markConsumed()
	return m.frame, true
}

// Wait blocks until a frame with an index above after is available, the
// mailbox is closed, or ctx is done.
func (m *Mailbox) Wait(ctx context.Context, after uint64) (types.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return types.Frame{}, err
		}
		if m.closed {
			return types.Frame{}, ErrClosed
		}
		if m.has && m.frame.Index > after {
			m.markConsumed()
			return m.frame, nil
		}
		m.cond.Wait()
	}
}

func (m *Mailbox) markConsumed() {
	if m.frame.Index > m.consumed {
		m.consumed = m.frame.Index
	}
}

// Close wakes every waiter; later waits return ErrClosed.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Mailbox) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

func (m *Mailbox) Published() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}
