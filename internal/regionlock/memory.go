package regionlock

import "sync"

// Memory implements byte-range locking across multiple in-process owners.
// It mirrors the semantics of platform advisory locks that matter to the
// election protocol: conflicts are per owner (re-acquiring a region the
// owner already holds succeeds), overlap is what conflicts, and blocking
// acquires queue until the region frees up. Tests use one Memory per
// simulated lock file and one owner per simulated process.
type Memory struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[Region]string
}

// NewMemory creates an empty lock table.
func NewMemory() *Memory {
	m := &Memory{held: make(map[Region]string)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Owner returns a Locker that acquires regions on behalf of name.
func (m *Memory) Owner(name string) Locker {
	return &memoryOwner{table: m, name: name}
}

func overlaps(a, b Region) bool {
	return a.Off < b.Off+b.Len && b.Off < a.Off+a.Len
}

func (m *Memory) conflicting(owner string, r Region) bool {
	for held, by := range m.held {
		if by != owner && overlaps(held, r) {
			return true
		}
	}
	return false
}

type memoryOwner struct {
	table *Memory
	name  string
}

func (o *memoryOwner) Acquire(r Region) error {
	m := o.table
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.conflicting(o.name, r) {
		m.cond.Wait()
	}
	m.held[r] = o.name
	return nil
}

func (o *memoryOwner) TryAcquire(r Region) (bool, error) {
	m := o.table
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicting(o.name, r) {
		return false, nil
	}
	m.held[r] = o.name
	return true, nil
}

func (o *memoryOwner) Release(r Region) error {
	m := o.table
	m.mu.Lock()
	defer m.mu.Unlock()
	if by, ok := m.held[r]; ok && by == o.name {
		delete(m.held, r)
		m.cond.Broadcast()
	}
	return nil
}
