package thread

import (
	"sync"
	"testing"
	"time"
)

func TestSemaphoreFIFOAmongEqualPriority(t *testing.T) {
	sem := NewSemaphore(0)
	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	a := New(1, "a", PriDefault, 0)
	b := New(2, "b", PriDefault, 0)

	for _, th := range []*Thread{a, b} {
		wg.Add(1)
		go func(th *Thread) {
			defer wg.Done()
			sem.Down(th)
			mu.Lock()
			order = append(order, th.Name)
			mu.Unlock()
		}(th)
	}
	// give both goroutines time to block on the semaphore.
	time.Sleep(20 * time.Millisecond)
	sem.Up()
	sem.Up()
	wg.Wait()

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("wake order = %v, want [a b]", order)
	}
}

func TestLockDonationSingleLevel(t *testing.T) {
	lock := NewLock()
	low := New(1, "low", 10, 0)
	high := New(2, "high", 30, 0)

	lock.Acquire(low)
	if got := low.EffectivePriority(); got != 10 {
		t.Fatalf("low priority before contention = %d, want 10", got)
	}

	done := make(chan struct{})
	go func() {
		lock.Acquire(high)
		close(done)
		lock.Release(high)
	}()

	time.Sleep(20 * time.Millisecond)
	if got := low.EffectivePriority(); got != 30 {
		t.Errorf("low effective priority after donation = %d, want 30", got)
	}

	lock.Release(low)
	<-done

	if got := low.EffectivePriority(); got != 10 {
		t.Errorf("low effective priority after release = %d, want 10", got)
	}
}

// TestLockDonationNested reproduces the classic three-level donation
// scenario: L holds a lock wanted by M, M holds a different lock wanted
// by H. Acquiring the chain should raise L all the way to H's priority.
func TestLockDonationNested(t *testing.T) {
	lockA := NewLock() // held by L, wanted by M
	lockB := NewLock() // held by M, wanted by H

	low := New(1, "L", 10, 0)
	mid := New(2, "M", 20, 0)
	high := New(3, "H", 30, 0)

	lockA.Acquire(low)
	lockB.Acquire(mid)

	mDone := make(chan struct{})
	go func() {
		lockA.Acquire(mid)
		close(mDone)
		lockA.Release(mid)
		lockB.Release(mid)
	}()
	time.Sleep(10 * time.Millisecond)

	hDone := make(chan struct{})
	go func() {
		lockB.Acquire(high)
		close(hDone)
		lockB.Release(high)
	}()
	time.Sleep(10 * time.Millisecond)

	if got := low.EffectivePriority(); got != 30 {
		t.Errorf("L effective priority = %d, want 30 (donated from H via M)", got)
	}
	if got := mid.EffectivePriority(); got != 30 {
		t.Errorf("M effective priority = %d, want 30 (donated from H)", got)
	}

	lockA.Release(low)
	<-mDone
	<-hDone

	if got := low.EffectivePriority(); got != 10 {
		t.Errorf("L effective priority after release = %d, want 10", got)
	}
}

func TestCondVarSignalWakesHighestPriority(t *testing.T) {
	lock := NewLock()
	cond := NewCondVar()
	var order []string
	var mu sync.Mutex

	waiter := func(name string, prio int) {
		th := New(0, name, prio, 0)
		go func() {
			lock.Acquire(th)
			cond.Wait(th, lock)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			lock.Release(th)
		}()
	}

	waiter("low", 10)
	waiter("high", 30)
	time.Sleep(20 * time.Millisecond)

	driver := New(9, "driver", 5, 0)
	lock.Acquire(driver)
	cond.Signal()
	lock.Release(driver)
	time.Sleep(20 * time.Millisecond)

	lock.Acquire(driver)
	cond.Signal()
	lock.Release(driver)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("signal order = %v, want [high low]", order)
	}
}
