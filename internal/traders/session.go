// Package traders implements the Session Registry (spec.md §4.2): a
// bounded, name-indexed table of logged-in traders ("sessions"), each a
// reference-counted handle onto a peer connection and an account.
package traders

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"bourse/internal/ledger"
	"bourse/internal/wire"
)

// Peer is the per-client byte-stream handle a session sends framed
// packets to. *net.TCPConn satisfies this; tests use smaller fakes.
type Peer interface {
	io.Writer
}

// Session is a logged-in trader: an immutable name, an immutable
// reference to its Account, an immutable peer handle, and a reference
// count that determines the session's lifetime (spec.md §3).
type Session struct {
	name string
	acc  *ledger.Account
	peer Peer

	refCount atomic.Int32

	sendMu sync.Mutex
}

// Name returns the session's immutable user name.
func (s *Session) Name() string { return s.name }

// Account returns the account backing this session. The reference is
// valid for the session's entire lifetime (spec.md §3 invariant).
func (s *Session) Account() *ledger.Account { return s.acc }

// ErrRefCountUnderflow is the diagnostic passed to panic when Unref is
// called on a session whose reference count is already zero. spec.md
// calls this a programming fault with no safe recovery; the process
// aborts rather than continuing with a corrupted count.
var ErrRefCountUnderflow = errors.New("traders: unref on a session with zero references")

// Ref increments the session's reference count by one and returns the
// same session, for chaining at call sites that take ownership of a new
// reference (e.g. placing an order, or snapshotting for broadcast).
func (s *Session) Ref() *Session {
	s.refCount.Add(1)
	return s
}

// unref decrements the reference count by one. When the count reaches
// zero the caller (always the Registry, see Registry.Unref) is
// responsible for destroying the session; this function only reports
// whether that point has been reached.
func (s *Session) unref() (destroyed bool) {
	n := s.refCount.Add(-1)
	if n < 0 {
		panic(ErrRefCountUnderflow)
	}
	return n == 0
}

// Send writes one framed packet to the session's peer under the send
// mutex, so that concurrent direct sends and broadcasts to the same
// session are serialized and never interleave their bytes. It never
// retries on failure.
func (s *Session) Send(h wire.Header, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return wire.WritePacket(s.peer, h, payload)
}
