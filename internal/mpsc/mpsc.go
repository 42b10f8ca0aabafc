// Package mpsc provides an unbounded multi-producer, single-consumer channel.
//
// Unlike a Go channel, sending never blocks: messages queue until the receiver takes them. A channel is disconnected
// for senders once the receiver is closed, and for the receiver once every sender has been closed and the queue is
// drained.
package mpsc

import (
	"context"
	"errors"
	"sync"
)

// ErrDisconnected is returned when the other side of a channel has gone away.
var ErrDisconnected = errors.New("memtest/mpsc: channel disconnected")

type channel[T any] struct {
	mu      sync.Mutex
	queue   []T
	head    int
	senders int
	closed  bool

	// ready has a buffer of one; a pending value means the queue or sender count has changed since the receiver last
	// looked.
	ready chan struct{}
}

// Sender is the sending half of a channel. Each Sender must be closed when its owner is done sending.
type Sender[T any] struct {
	ch   *channel[T]
	once sync.Once
}

// Receiver is the receiving half of a channel.
type Receiver[T any] struct {
	ch *channel[T]
}

// New returns the two halves of a new channel with a single Sender.
func New[T any]() (*Sender[T], *Receiver[T]) {
	ch := &channel[T]{senders: 1, ready: make(chan struct{}, 1)}
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

// Clone returns a new Sender for the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()

	if s.ch.senders == 0 {
		panic("memtest/mpsc: clone of closed sender")
	}
	s.ch.senders++
	return &Sender[T]{ch: s.ch}
}

// Send queues v for the receiver. It never blocks. If the receiver has been closed, it returns ErrDisconnected.
func (s *Sender[T]) Send(v T) error {
	s.ch.mu.Lock()
	if s.ch.closed {
		s.ch.mu.Unlock()
		return ErrDisconnected
	}
	s.ch.queue = append(s.ch.queue, v)
	s.ch.mu.Unlock()

	s.ch.notify()
	return nil
}

// Close releases the Sender. Once every Sender of a channel is closed, the receiver sees ErrDisconnected after draining
// the queue. Close is idempotent.
func (s *Sender[T]) Close() {
	s.once.Do(func() {
		s.ch.mu.Lock()
		s.ch.senders--
		s.ch.mu.Unlock()

		s.ch.notify()
	})
}

// Recv returns the next message, blocking until one is available. If every Sender has been closed and no messages
// remain, it returns ErrDisconnected. If ctx is done first, it returns ctx's error.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, ok, err := r.TryRecv()
		if ok || err != nil {
			return v, err
		}

		select {
		case <-r.ch.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv returns the next message without blocking. If the queue is empty, ok is false.
func (r *Receiver[T]) TryRecv() (v T, ok bool, err error) {
	ch := r.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.head < len(ch.queue) {
		var zero T
		v = ch.queue[ch.head]
		ch.queue[ch.head] = zero
		ch.head++
		if ch.head == len(ch.queue) {
			ch.queue, ch.head = ch.queue[:0], 0
		}
		return v, true, nil
	}

	if ch.senders == 0 {
		return v, false, ErrDisconnected
	}
	return v, false, nil
}

// Len returns the number of queued messages.
func (r *Receiver[T]) Len() int {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()

	return len(r.ch.queue) - r.ch.head
}

// Close disconnects the channel. Subsequent sends fail with ErrDisconnected and queued messages are discarded.
func (r *Receiver[T]) Close() {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()

	r.ch.closed = true
	r.ch.queue, r.ch.head = nil, 0
}

func (ch *channel[T]) notify() {
	select {
	case ch.ready <- struct{}{}:
	default:
	}
}
