package swap

import "testing"

func TestWriteRetrieveRoundTrip(t *testing.T) {
	d := New(8)
	page := make([]byte, 4096)
	for i := range page {
		page[i] = byte(i)
	}
	slot := d.Write(page)

	out := make([]byte, 4096)
	d.Retrieve(slot, out)
	for i := range page {
		if out[i] != page[i] {
			t.Fatalf("byte %d: got %d, want %d", i, out[i], page[i])
		}
	}
}

// TestAllocFreeMerging reproduces spec.md §8 scenario 6: write into
// slots 0..4, free 2, then 1, then 3, and expect the free list to merge
// into [1,4) adjacent to [5,end).
func TestAllocFreeMerging(t *testing.T) {
	d := New(8)
	page := make([]byte, 4096)
	var slots []int
	for i := 0; i < 5; i++ {
		slots = append(slots, d.Write(page))
	}
	for i, s := range slots {
		if s != i {
			t.Fatalf("slot %d allocated out of order: got %d", i, s)
		}
	}

	d.FreeSlot(2)
	d.FreeSlot(1)
	d.FreeSlot(3)

	got := d.FreeRanges()
	want := [][2]int{{1, 4}, {5, 8}}
	if len(got) != len(want) {
		t.Fatalf("free ranges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("free ranges = %v, want %v", got, want)
		}
	}
}

func TestExhaustedDevicePanics(t *testing.T) {
	d := New(1)
	page := make([]byte, 4096)
	d.Write(page)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on exhausted swap device")
		}
	}()
	d.Write(page)
}
