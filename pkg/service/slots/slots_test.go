package slots

import (
	"sync"
	"testing"
)

func TestExclusiveAcquireLowestFirst(t *testing.T) {
	p := NewExclusivePool("channels", 8)

	h0, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h0.Index() != 0 {
		t.Fatalf("expected index 0, got %d", h0.Index())
	}
	h1, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h1.Index() != 1 {
		t.Fatalf("expected index 1, got %d", h1.Index())
	}

	// Free 0; the next acquisition must return 0 again.
	if err := h0.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h0b, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h0b.Index() != 0 {
		t.Fatalf("expected lowest free index 0, got %d", h0b.Index())
	}
}

func TestExclusiveNoDuplicateOwners(t *testing.T) {
	p := NewExclusivePool("channels", 4)

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		h, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if seen[h.Index()] {
			t.Fatalf("index %d handed out twice", h.Index())
		}
		seen[h.Index()] = true
	}
	if _, err := p.Acquire(); !IsResourceExhausted(err) {
		t.Fatalf("expected ResourceExhaustedError, got %v", err)
	}
	if _, err := p.AcquireIndex(2); !IsResourceExhausted(err) {
		t.Fatalf("expected ResourceExhaustedError for owned index, got %v", err)
	}
}

func TestExclusiveInvalidIndex(t *testing.T) {
	p := NewExclusivePool("channels", 4)

	if _, err := p.AcquireIndex(4); !IsInvalidIndex(err) {
		t.Fatalf("expected InvalidIndexError, got %v", err)
	}
	if _, err := p.AcquireIndex(-1); !IsInvalidIndex(err) {
		t.Fatalf("expected InvalidIndexError, got %v", err)
	}
}

func TestSharedRefCounting(t *testing.T) {
	p := NewSharedPool("timers", 4)

	// 3 acquisitions on the same index.
	var handles []*SharedHandle
	for i := 0; i < 3; i++ {
		h, err := p.AcquireIndex(2)
		if err != nil {
			t.Fatalf("AcquireIndex %d: %v", i, err)
		}
		if wantFirst := i == 0; h.First() != wantFirst {
			t.Fatalf("acquisition %d: First()=%v", i, h.First())
		}
		handles = append(handles, h)
	}
	if refs := p.RefCount(2); refs != 3 {
		t.Fatalf("expected refcount 3, got %d", refs)
	}

	// Release one by one; the slot must stay in use until the last one.
	for i, h := range handles {
		remaining, err := h.Release()
		if err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
		if want := len(handles) - i - 1; remaining != want {
			t.Fatalf("Release %d: remaining=%d, want %d", i, remaining, want)
		}
		inUse := p.RefCount(2) > 0
		if want := i < len(handles)-1; inUse != want {
			t.Fatalf("Release %d: in use=%v, want %v", i, inUse, want)
		}
	}
}

func TestSharedAcquirePrefersFreeIndex(t *testing.T) {
	p := NewSharedPool("timers", 4)

	h0, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h0.Index() != 0 || !h0.First() {
		t.Fatalf("expected fresh index 0, got %d (first=%v)", h0.Index(), h0.First())
	}
	// Acquire without preference never shares.
	h1, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h1.Index() != 1 || !h1.First() {
		t.Fatalf("expected fresh index 1, got %d (first=%v)", h1.Index(), h1.First())
	}
}

func TestSharedExhaustion(t *testing.T) {
	p := NewSharedPool("timers", 2)

	if _, err := p.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := p.Acquire(); !IsResourceExhausted(err) {
		t.Fatalf("expected ResourceExhaustedError, got %v", err)
	}
	// Sharing by index still works when the pool is full.
	h, err := p.AcquireIndex(1)
	if err != nil {
		t.Fatalf("AcquireIndex: %v", err)
	}
	if h.First() {
		t.Fatal("expected shared handle, got first reference")
	}
}

func TestDoubleReleaseDetected(t *testing.T) {
	shared := NewSharedPool("timers", 2)
	sh, err := shared.AcquireIndex(0)
	if err != nil {
		t.Fatalf("AcquireIndex: %v", err)
	}
	if _, err := sh.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if _, err := sh.Release(); !IsDoubleRelease(err) {
		t.Fatalf("expected DoubleReleaseError, got %v", err)
	}
	// The pool state must not be corrupted by the failed release.
	if refs := shared.RefCount(0); refs != 0 {
		t.Fatalf("refcount corrupted: %d", refs)
	}

	excl := NewExclusivePool("channels", 2)
	eh, err := excl.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := eh.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := eh.Release(); !IsDoubleRelease(err) {
		t.Fatalf("expected DoubleReleaseError, got %v", err)
	}
	if excl.InUse(0) {
		t.Fatal("pool state corrupted: index 0 still in use")
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := NewExclusivePool("channels", 8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h, err := p.Acquire()
				if err != nil {
					continue
				}
				h.Release()
			}
		}()
	}
	wg.Wait()

	if got := len(p.AllocatedIndices()); got != 0 {
		t.Fatalf("expected empty pool after churn, got %d allocated", got)
	}
}
