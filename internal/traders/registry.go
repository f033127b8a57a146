package traders

import (
	"errors"
	"sync"

	"bourse/internal/ledger"
	"bourse/internal/logging"
	"bourse/internal/wire"
)

// MaxSessions is the session table capacity (spec.md §6 Limits).
const MaxSessions = 64

// ErrDuplicateName is returned by Login when a session is already logged
// in under the requested name.
var ErrDuplicateName = errors.New("traders: a session already exists for this name")

// ErrCapacity is returned by Login when the session table is full.
var ErrCapacity = errors.New("traders: session table full")

// Registry is the process-wide table of live sessions.
type Registry struct {
	ledger *ledger.Ledger
	log    *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an empty registry backed by l for account lookups.
func New(l *ledger.Ledger, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.New(nil)
	}
	return &Registry{
		ledger:   l,
		log:      log,
		sessions: make(map[string]*Session, MaxSessions),
	}
}

// Login attempts to log in a trader with the given name over peer. It
// fails if a session already exists for name, or if the table is full.
// On success the returned Session carries one reference, owned by the
// caller (conventionally the connection's servicing goroutine); that
// reference must eventually be released via Logout.
func (r *Registry) Login(peer Peer, name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[name]; exists {
		return nil, ErrDuplicateName
	}
	if len(r.sessions) >= MaxSessions {
		return nil, ErrCapacity
	}

	acc, err := r.ledger.Lookup(name)
	if err != nil {
		return nil, err
	}

	s := &Session{name: name, acc: acc, peer: peer}
	s.refCount.Store(1)
	r.sessions[name] = s
	r.log.Infof("login: %s", name)
	return s, nil
}

// Logout removes s from the registry (if still present) and releases the
// caller's owning reference. Calling Logout twice for the same session is
// a programming fault, per spec.md §4.2.
func (r *Registry) Logout(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.name]; ok && cur == s {
		delete(r.sessions, s.name)
	}
	r.mu.Unlock()

	r.Unref(s)
	r.log.Infof("logout: %s", s.name)
}

// Ref increments s's reference count. See Session.Ref.
func (r *Registry) Ref(s *Session) *Session {
	return s.Ref()
}

// Unref decrements s's reference count. Go's garbage collector reclaims
// the Session's memory once it becomes unreachable; Unref's job is only
// to enforce the spec's lifetime invariant (the object must not be used
// again by the caller once the count reaches zero) and to guard against
// the double-release programming fault.
func (r *Registry) Unref(s *Session) {
	if s.unref() {
		r.log.Debugf("session destroyed: %s", s.name)
	}
}

// Send writes one framed packet to a single session.
func (r *Registry) Send(s *Session, h wire.Header, payload []byte) error {
	return s.Send(h, payload)
}

// Broadcast delivers a packet to every currently logged-in session. It
// takes the registry mutex only long enough to snapshot the live session
// set and take an extra reference on each; the registry lock is released
// before any send is attempted, so a slow or blocked peer never holds up
// login, logout, or other broadcasts. Every snapshotted session is sent
// to regardless of earlier failures; Broadcast reports failure if any
// individual send failed.
func (r *Registry) Broadcast(h wire.Header, payload []byte) error {
	snapshot := r.snapshotWithRefs()

	var failed bool
	for _, s := range snapshot {
		if err := s.Send(h, payload); err != nil {
			failed = true
		}
		r.Unref(s)
	}
	if failed {
		return errors.New("traders: broadcast failed for at least one peer")
	}
	return nil
}

func (r *Registry) snapshotWithRefs() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s.Ref())
	}
	return snapshot
}

// Len reports the number of currently logged-in sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
