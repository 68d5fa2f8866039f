package delivery

import "sync"

// pairLocks - мьютексы по паре собеседников со счетчиком ссылок,
// запись удаляется, когда ее никто не держит
type pairLocks struct {
	locks map[string]*pairLock
	mu    sync.Mutex
}

type pairLock struct {
	refs int
	mu   sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*pairLock)}
}

// pairKey не зависит от направления: оба участника видят переписку
// в одном и том же порядке
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func (p *pairLocks) lock(a, b string) func() {
	key := pairKey(a, b)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *pairLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
