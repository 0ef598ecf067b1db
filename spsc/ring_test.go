// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package spsc

import (
	"sync"
	"testing"
)

func TestRingCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	r := NewRing[int](5)
	if r.Cap() != 8 {
		t.Fatalf("expected cap 8, got %d", r.Cap())
	}
}

func TestRingPushPopFIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if r.TryPush(99) {
		t.Fatal("push into a full ring should fail")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Fatal("pop from an empty ring should fail")
	}
}

func TestRingFreeAndLen(t *testing.T) {
	r := NewRing[int](4)
	if r.Free() != 4 || r.Len() != 0 {
		t.Fatalf("fresh ring: free=%d len=%d", r.Free(), r.Len())
	}
	r.TryPush(1)
	r.TryPush(2)
	if r.Len() != 2 || r.Free() != 2 {
		t.Fatalf("after 2 pushes: free=%d len=%d", r.Free(), r.Len())
	}
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	const n = 200000
	r := NewRing[int](64)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !r.TryPush(i) {
			}
		}
	}()

	var sum, count int
	go func() {
		defer wg.Done()
		for count < n {
			if v, ok := r.TryPop(); ok {
				sum += v
				count++
			}
		}
	}()

	wg.Wait()
	want := n * (n - 1) / 2
	if sum != want {
		t.Fatalf("expected sum %d, got %d", want, sum)
	}
}

func TestCloseSignalOneShot(t *testing.T) {
	cs := NewCloseSignal[string]()
	if !cs.TrySend("payload") {
		t.Fatal("first send should succeed")
	}
	if cs.TrySend("again") {
		t.Fatal("second send should fail, slot already occupied")
	}
	v, ok := cs.TryRecv()
	if !ok || v != "payload" {
		t.Fatalf("expected payload, got %q (ok=%v)", v, ok)
	}
	if _, ok := cs.TryRecv(); ok {
		t.Fatal("second recv should fail, nothing left")
	}
}
