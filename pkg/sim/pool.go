package sim

import "sync"

type poolKey struct {
	remoteAddr string
	remotePort int
}

// Pool caches healthy open connections per (remote_address, remote_port)
// so a subsequent connect to the same key reuses one instead of dialing
// again (§4.2 "Connection pool"). A connection handed out by take is
// removed from the pool, so it is never given to two concurrent callers.
type Pool struct {
	mu    sync.Mutex
	conns map[poolKey]*Conn
}

func newPool() *Pool {
	return &Pool{conns: make(map[poolKey]*Conn)}
}

func (p *Pool) take(key poolKey) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[key]
	if !ok {
		return nil, false
	}
	delete(p.conns, key)
	if !conn.IsOpen() {
		return nil, false
	}
	return conn, true
}

// put reinserts conn iff it is still open; a closed or faulted connection
// is evicted instead of cached.
func (p *Pool) put(key poolKey, conn *Conn) {
	if !conn.IsOpen() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[key] = conn
}
