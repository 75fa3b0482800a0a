package guestloop

import "sync"

// SignalSource is a minimal in-process [EventSource] with single-shot
// connection semantics: each connection fires at most once, on the next
// [SignalSource.Fire], unless reconnected. It is the package-native
// equivalent of a toolkit signal; adapters for real toolkit signals
// implement [EventSource] directly.
//
// Go functions cannot be compared for equality, so each connection carries
// a unique token used for disconnection.
type SignalSource struct {
	mu     sync.Mutex
	conns  []signalConnEntry
	nextID uint64
}

type signalConnEntry struct {
	fn func(any)
	id uint64
}

// NewSignalSource creates an empty signal source.
func NewSignalSource() *SignalSource {
	return &SignalSource{nextID: 1}
}

// Connect implements [EventSource]. fn is invoked with the fired value at
// most once; the connection is removed before fn runs.
func (s *SignalSource) Connect(fn func(value any)) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.conns = append(s.conns, signalConnEntry{fn: fn, id: id})
	return &signalConn{src: s, id: id}, nil
}

// Fire delivers value to every current connection, in connection order, and
// removes them. Connections made during delivery fire on the next Fire.
func (s *SignalSource) Fire(value any) {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.fn(value)
	}
}

// Pending reports the number of live connections.
func (s *SignalSource) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// signalConn is the disconnection token for one connection.
type signalConn struct {
	src *SignalSource
	id  uint64
}

// Disconnect removes the connection if it has not fired yet.
func (c *signalConn) Disconnect() {
	s := c.src
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.conns {
		if entry.id == c.id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}
