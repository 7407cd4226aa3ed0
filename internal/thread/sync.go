package thread

import "sync"

/// insertSortedByPriority inserts t into waiters, kept sorted by
/// EffectivePriority() descending with FIFO order preserved among threads
/// of equal priority (spec.md §4.3 tie-break rule, applied uniformly to
/// every priority-ordered wait list in the kernel).
func insertSortedByPriority(waiters []*Thread, t *Thread) []*Thread {
	p := t.EffectivePriority()
	i := len(waiters)
	for i > 0 && waiters[i-1].EffectivePriority() < p {
		i--
	}
	waiters = append(waiters, nil)
	copy(waiters[i+1:], waiters[i:])
	waiters[i] = t
	return waiters
}

func removeThread(waiters []*Thread, t *Thread) []*Thread {
	for i, w := range waiters {
		if w == t {
			return append(waiters[:i], waiters[i+1:]...)
		}
	}
	return waiters
}

/// Semaphore is a counting semaphore whose wait list is kept in priority
/// order, per original_source/threads/synch.c's sema_down/sema_up.
type Semaphore struct {
	mu      sync.Mutex
	value   int
	waiters []*Thread
}

/// NewSemaphore returns a semaphore initialized to value.
func NewSemaphore(value int) *Semaphore {
	return &Semaphore{value: value}
}

/// Down waits until the semaphore's value is positive, then decrements it.
func (s *Semaphore) Down(self *Thread) {
	s.mu.Lock()
	for s.value == 0 {
		s.waiters = insertSortedByPriority(s.waiters, self)
		if self.blockerKind() == BlockNone {
			self.setBlocker(Blocker{Kind: BlockSema, Sema: s})
		}
		s.mu.Unlock()
		self.park()
		s.mu.Lock()
		s.waiters = removeThread(s.waiters, self)
	}
	s.value--
	s.mu.Unlock()
	self.clearBlockerIfKind(BlockSema)
}

/// TryDown decrements the semaphore without blocking if its value is
/// already positive.
func (s *Semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

/// Up increments the semaphore and, if a thread was waiting, wakes the
/// highest-priority one. Waking does not itself re-decrement the value:
/// the woken thread loops back through Down's value check, exactly as
/// original_source/threads/synch.c does, so a concurrent Down racing the
/// same Up cannot steal the unit meant for the woken waiter without also
/// passing through the same accounting.
func (s *Semaphore) Up() {
	s.mu.Lock()
	s.value++
	var woken *Thread
	if len(s.waiters) > 0 {
		woken = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.mu.Unlock()
	if woken != nil {
		woken.wakeUp()
	}
}

/// reorder repositions a waiting thread after its effective priority has
/// changed, without waking it.
func (s *Semaphore) reorder(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, w := range s.waiters {
		if w == t {
			found = true
			break
		}
	}
	if !found {
		return
	}
	s.waiters = removeThread(s.waiters, t)
	s.waiters = insertSortedByPriority(s.waiters, t)
}

/// Lock is a binary semaphore augmented with priority donation tracking
/// (spec.md §4.2), grounded on original_source/threads/synch.c's struct
/// lock plus its donation side, which in upstream Pintos lives in thread.c.
type Lock struct {
	mu      sync.Mutex
	sem     *Semaphore
	holder  *Thread
	donated int
}

/// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{sem: NewSemaphore(1)}
}

/// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

/// DonatedPriority is the cached maximum effective priority among threads
/// waiting on this lock, or 0 if none are waiting.
func (l *Lock) DonatedPriority() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.donated
}

/// HeldBySelf reports whether self already holds the lock (spec.md
/// Non-goals: re-acquiring a held lock is a programming error, not a
/// deadlock to resolve; this lets a caller detect it up front).
func (l *Lock) HeldBySelf(self *Thread) bool {
	return l.Holder() == self
}

/// Acquire takes the lock, donating self's effective priority up the
/// waits-for chain if it is already held.
func (l *Lock) Acquire(self *Thread) {
	if l.sem.TryDown() {
		l.mu.Lock()
		l.holder = self
		l.mu.Unlock()
		self.addHeldLock(l)
		return
	}
	self.setBlocker(Blocker{Kind: BlockLock, Lock: l})
	l.donate(self.EffectivePriority())
	l.sem.Down(self)
	l.mu.Lock()
	l.holder = self
	l.mu.Unlock()
	self.addHeldLock(l)
	self.clearBlockerIfKind(BlockLock)
}

/// TryAcquire takes the lock only if it is free, without donating.
func (l *Lock) TryAcquire(self *Thread) bool {
	if !l.sem.TryDown() {
		return false
	}
	l.mu.Lock()
	l.holder = self
	l.mu.Unlock()
	self.addHeldLock(l)
	return true
}

/// donate raises the lock's cached donated priority to prio if that is
/// higher, and if the lock is held, cascades the change into the holder's
/// sorted held-lock set (spec.md §4.2's donation cascade).
func (l *Lock) donate(prio int) {
	l.mu.Lock()
	holder := l.holder
	if prio > l.donated {
		l.donated = prio
	}
	l.mu.Unlock()
	if holder != nil {
		holder.reinsertLock(l)
	}
}

/// recomputeDonated resets the lock's cached donated priority from its
/// remaining waiters, called on release.
func (l *Lock) recomputeDonated() {
	top := 0
	for _, w := range l.sem.waiters {
		if p := w.EffectivePriority(); p > top {
			top = p
		}
	}
	l.mu.Lock()
	l.donated = top
	l.mu.Unlock()
}

/// Release gives up the lock. Panics if called by a thread other than the
/// current holder, matching the assertion-abort spec.md §7 calls for on
/// lock misuse.
func (l *Lock) Release(self *Thread) {
	if l.Holder() != self {
		panic("thread: lock released by non-owner")
	}
	self.removeHeldLock(l)
	l.sem.mu.Lock()
	l.recomputeDonated()
	l.sem.mu.Unlock()
	l.mu.Lock()
	l.holder = nil
	l.mu.Unlock()
	l.sem.Up()
}

/// CondVar is a condition variable associated with an external Lock,
/// following original_source/threads/synch.c's cond_wait/cond_signal: each
/// waiter parks on a private one-shot semaphore rather than the condition
/// variable itself, so Signal can wake exactly the highest-priority
/// waiter.
type CondVar struct {
	mu      sync.Mutex
	waiters []*condWaiter
}

type condWaiter struct {
	thread *Thread
	sema   *Semaphore
}

/// NewCondVar returns an empty condition variable.
func NewCondVar() *CondVar {
	return &CondVar{}
}

/// Wait releases lock, blocks until signaled, then reacquires lock.
/// Caller must hold lock.
func (c *CondVar) Wait(self *Thread, lock *Lock) {
	self.setBlocker(Blocker{Kind: BlockCond, Cond: c})
	w := &condWaiter{thread: self, sema: NewSemaphore(0)}
	c.mu.Lock()
	c.waiters = insertCondWaiter(c.waiters, w)
	c.mu.Unlock()
	lock.Release(self)
	w.sema.Down(self)
	lock.Acquire(self)
	self.clearBlockerIfKind(BlockCond)
}

func insertCondWaiter(waiters []*condWaiter, w *condWaiter) []*condWaiter {
	p := w.thread.EffectivePriority()
	i := len(waiters)
	for i > 0 && waiters[i-1].thread.EffectivePriority() < p {
		i--
	}
	waiters = append(waiters, nil)
	copy(waiters[i+1:], waiters[i:])
	waiters[i] = w
	return waiters
}

/// Signal wakes the highest-priority waiter, if any.
func (c *CondVar) Signal() {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()
	w.sema.Up()
}

/// Broadcast wakes every waiter, highest priority first.
func (c *CondVar) Broadcast() {
	for {
		c.mu.Lock()
		empty := len(c.waiters) == 0
		c.mu.Unlock()
		if empty {
			return
		}
		c.Signal()
	}
}

/// reorder repositions a waiting thread after its effective priority has
/// changed, without waking it.
func (c *CondVar) reorder(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, w := range c.waiters {
		if w.thread == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	w := c.waiters[idx]
	c.waiters = append(c.waiters[:idx], c.waiters[idx+1:]...)
	c.waiters = insertCondWaiter(c.waiters, w)
}
