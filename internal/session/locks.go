package session

import "sync"

type refLock struct {
	mu   sync.Mutex
	refs int
}

// projectLocks serializes handlers per project id. Entries are dropped once
// no goroutine holds or waits for them.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*refLock)}
}

func (p *projectLocks) Lock(id string) (unlock func()) {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &refLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}

func (p *projectLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
