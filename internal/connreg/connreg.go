// Package connreg implements the Connection Registry (spec.md §4.4): a
// bounded set of live peer connections used to drive an orderly shutdown
// — every registered connection is half-closed on demand, and a waiter
// can block until the set has drained back to empty.
package connreg

import (
	"errors"
	"sync"
)

// MaxConnections is the registry capacity (spec.md §6 Limits), carried
// over from the original's fixed 4096-entry fd table.
const MaxConnections = 4096

// ErrCapacity is returned by Register when the registry is full.
var ErrCapacity = errors.New("connreg: connection table full")

// Conn is the half-close capability a registered connection must offer.
// *net.TCPConn satisfies this via CloseRead; tests use smaller fakes.
type Conn interface {
	CloseRead() error
}

// Registry tracks every connection currently being serviced, so that a
// shutdown can force all of them to stop reading (and therefore exit
// their service loops) without having to reach into the server's accept
// loop or any per-connection goroutine directly.
type Registry struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	wg    sync.WaitGroup
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[Conn]struct{}, MaxConnections)}
}

// Register adds c to the registry. It must be paired with exactly one
// later call to Unregister, even if the connection's service loop exits
// due to an error.
func (r *Registry) Register(c Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= MaxConnections {
		return ErrCapacity
	}
	r.conns[c] = struct{}{}
	r.wg.Add(1)
	return nil
}

// Unregister removes c from the registry.
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	r.wg.Done()
}

// ShutdownAll half-closes every currently registered connection's read
// side. Blocked reads in each connection's service loop return an error,
// which drives that loop to its own Unregister call and exit — this
// function does not wait for that to happen (see Wait).
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.conns {
		c.CloseRead()
	}
}

// Wait blocks until every connection registered at the time of the call
// (or registered afterward) has been unregistered. Intended to be called
// once the accept loop has stopped producing new connections and
// ShutdownAll has been issued.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Len reports the number of currently registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
