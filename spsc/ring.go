// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package spsc implements the wait-free single-producer/single-consumer ring
// used as the shared substrate between a realtime client and its blocking I/O
// server: a bounded capacity ring for client→server and server→client
// messages, plus a one-slot variant for the teardown close signal.
package spsc

import "sync/atomic"

const cacheLine = 64

// Ring is a bounded, power-of-two-capacity, wait-free SPSC queue. Exactly one
// goroutine may call TryPush, and exactly one (possibly different) goroutine
// may call TryPop. Both are allocation-free and lock-free: a single atomic
// load/store per call, no CAS loop, no syscalls.
//
// head/cachedTail live on the consumer's cache line; tail/cachedHead live on
// the producer's. The cached copies avoid a cross-core load on the hot path:
// a producer only re-reads head when its cached view says the ring is full,
// and a consumer only re-reads tail when its cached view says it is empty.
type Ring[T any] struct {
	head       atomic.Uint64
	cachedTail uint64
	_          [cacheLine - 8 - 8]byte

	tail       atomic.Uint64
	cachedHead uint64
	_          [cacheLine - 8 - 8]byte

	buf  []T
	mask uint64
}

// NewRing creates a ring whose capacity is the next power of two ≥ size (size
// must be ≥ 1).
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	cap := uint64(1)
	for cap < uint64(size) {
		cap <<= 1
	}
	return &Ring[T]{
		buf:  make([]T, cap),
		mask: cap - 1,
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int {
	return int(r.mask + 1)
}

// Len returns the number of slots currently occupied. Safe to call from
// either side; the producer's view may lag the true value by one in-flight
// push and vice versa, which is fine since callers only use it for
// conservative preflight checks.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the number of slots currently free for TryPush.
func (r *Ring[T]) Free() int {
	return r.Cap() - r.Len()
}

// TryPush appends v. Returns false without blocking or allocating if the ring
// is full. Producer-only.
func (r *Ring[T]) TryPush(v T) bool {
	tail := r.tail.Load()
	if tail-r.cachedHead > r.mask {
		r.cachedHead = r.head.Load()
		if tail-r.cachedHead > r.mask {
			return false
		}
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// TryPop removes and returns the oldest value. Returns false without
// blocking or allocating if the ring is empty. Consumer-only.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.cachedTail {
		r.cachedTail = r.tail.Load()
		if head == r.cachedTail {
			return zero, false
		}
	}
	v := r.buf[head&r.mask]
	r.buf[head&r.mask] = zero // drop the reference so the consumed slot can be GC'd
	r.head.Store(head + 1)
	return v, true
}

// CloseSignal is a one-slot ring used to transfer ownership of the client's
// heap to the server at teardown, so the realtime thread never performs the
// large deallocation itself. TrySend is called at most once over the
// lifetime of a stream; the server polls TryRecv until the payload arrives.
type CloseSignal[T any] struct {
	ring *Ring[T]
}

// NewCloseSignal creates an empty one-slot close signal.
func NewCloseSignal[T any]() *CloseSignal[T] {
	return &CloseSignal[T]{ring: NewRing[T](1)}
}

// TrySend installs the payload. Returns false if the slot is already
// occupied (a stream closes at most once).
func (c *CloseSignal[T]) TrySend(v T) bool {
	return c.ring.TryPush(v)
}

// TryRecv drains the payload if present.
func (c *CloseSignal[T]) TryRecv() (T, bool) {
	return c.ring.TryPop()
}
