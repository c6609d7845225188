package ring

import (
	"runtime"
	"sync"
	"testing"
)

func newTestRing(t *testing.T, capacity uint64) *Ring {
	t.Helper()
	r, err := Allocate(Config{ByteCapacity: capacity})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	r := newTestRing(t, 4096)

	payload := []byte("hello, hyperq")
	err := r.WriteSome(len(payload), func(window []byte) int {
		copy(window, payload)
		return len(payload)
	})
	if err != nil {
		t.Fatalf("WriteSome: %v", err)
	}

	var got []byte
	more, err := r.SingleReaderReadSome(func(buf []byte) (int, bool, error) {
		got = append([]byte(nil), buf[:len(payload)]...)
		return len(payload), false, nil
	})
	if err != nil {
		t.Fatalf("SingleReaderReadSome: %v", err)
	}
	if more {
		t.Error("expected no more data after draining the only write")
	}
	if string(got) != string(payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
	if r.Used() != 0 {
		t.Errorf("Used() = %d, want 0 after full drain", r.Used())
	}
}

func TestReadEmptyRingReturnsNoData(t *testing.T) {
	r := newTestRing(t, 4096)
	called := false
	more, err := r.SingleReaderReadSome(func(buf []byte) (int, bool, error) {
		called = true
		return 0, false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if more {
		t.Error("expected more=false on an empty ring")
	}
	if called {
		t.Error("callback should not run when the ring is empty")
	}
}

func TestWrapAroundIsContiguous(t *testing.T) {
	pageSize := 4096
	r := newTestRing(t, uint64(pageSize))

	chunk := pageSize / 3
	// Consume and republish enough times to push the head past the
	// buffer's logical end, then write a payload straddling the wrap.
	for i := 0; i < 5; i++ {
		if err := r.WriteSome(chunk, func(window []byte) int {
			for j := range window[:chunk] {
				window[j] = byte(i)
			}
			return chunk
		}); err != nil {
			t.Fatalf("WriteSome iteration %d: %v", i, err)
		}
		if _, err := r.SingleReaderReadSome(func(buf []byte) (int, bool, error) {
			return chunk, false, nil
		}); err != nil {
			t.Fatalf("SingleReaderReadSome iteration %d: %v", i, err)
		}
	}

	payload := make([]byte, chunk*2)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := r.WriteSome(len(payload), func(window []byte) int {
		copy(window, payload)
		return len(payload)
	}); err != nil {
		t.Fatalf("WriteSome wrapping payload: %v", err)
	}

	var got []byte
	_, err := r.SingleReaderReadSome(func(buf []byte) (int, bool, error) {
		got = append([]byte(nil), buf[:len(payload)]...)
		return len(payload), false, nil
	})
	if err != nil {
		t.Fatalf("SingleReaderReadSome: %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d (ring wrap produced discontiguous bytes)", i, got[i], payload[i])
		}
	}
}

func TestConcurrentProducersPreserveAllBytes(t *testing.T) {
	r := newTestRing(t, 1<<16)

	const producers = 8
	const perProducer = 64
	const total = producers * perProducer

	done := make(chan struct{})
	var received int
	go func() {
		defer close(done)
		for received < total {
			more, err := r.SingleReaderReadSome(func(buf []byte) (int, bool, error) {
				n := len(buf) / 8 * 8
				if n == 0 {
					return 0, false, nil
				}
				received += n / 8
				return n, false, nil
			})
			if err != nil {
				t.Errorf("SingleReaderReadSome: %v", err)
				return
			}
			if !more {
				runtime.Gosched()
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				err := r.WriteSome(8, func(window []byte) int {
					window[0] = byte(p)
					return 8
				})
				if err != nil {
					t.Errorf("producer %d: WriteSome: %v", p, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	<-done

	if received != total {
		t.Errorf("consumer received %d messages, want %d", received, total)
	}
}
