package mcp

import (
	"sync"
	"time"
)

// SessionState is the lifecycle of one peer relationship.
type SessionState int

// Session lifecycle states. Transitions are driven by the initialize
// exchange and by shutdown.
const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// callResult delivers the outcome of one outbound call: either the response
// frame carrying the call's ID, or a local failure such as a timeout.
type callResult struct {
	resp *Response
	err  error
}

type pendingCall struct {
	method  string
	created time.Time
	ch      chan callResult
}

// Session keeps the state of one peer relationship: the lifecycle state
// machine, the outbound request ID allocator, the pending-call table and the
// negotiated capabilities. All mutating operations serialize on one lock,
// which is never held across a wait.
type Session struct {
	mu sync.Mutex

	state          SessionState
	nextID         int64
	pending        map[RequestID]*pendingCall
	requestTimeout time.Duration

	serverCaps      ServerCapabilities
	clientCaps      ClientCapabilities
	protocolVersion string
	id              string
}

const defaultRequestTimeout = 30 * time.Second

// NewSession creates a session in the Uninitialized state with the default
// request timeout.
func NewSession() *Session {
	return &Session{
		nextID:         1,
		pending:        make(map[RequestID]*pendingCall),
		requestTimeout: defaultRequestTimeout,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the lifecycle state machine.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// NextID allocates the next integer request ID.
func (s *Session) NextID() RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := NewIntRequestID(s.nextID)
	s.nextID++
	return id
}

// RegisterPending allocates a fresh ID and inserts a one-shot rendezvous for
// it. The returned channel receives exactly one callResult: the matching
// response, or a failure delivered by Fail, CheckTimeouts or FailAll.
func (s *Session) RegisterPending(method string) (RequestID, <-chan callResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := NewIntRequestID(s.nextID)
	s.nextID++
	pc := &pendingCall{
		method:  method,
		created: time.Now(),
		ch:      make(chan callResult, 1),
	}
	s.pending[id] = pc
	return id, pc.ch
}

// Resolve delivers a response to its waiter and removes the entry. It returns
// false when no such ID is pending; late arrivals are the caller's to drop.
func (s *Session) Resolve(id RequestID, resp *Response) bool {
	s.mu.Lock()
	pc, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	pc.ch <- callResult{resp: resp}
	return true
}

// Fail delivers a local failure to the waiter for id and removes the entry.
// It returns false when the ID is not pending, which means a response already
// won the race.
func (s *Session) Fail(id RequestID, err error) bool {
	s.mu.Lock()
	pc, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	pc.ch <- callResult{err: err}
	return true
}

// FailAll fails every pending call, used when the transport dies.
func (s *Session) FailAll(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[RequestID]*pendingCall)
	s.mu.Unlock()
	for _, pc := range pending {
		pc.ch <- callResult{err: err}
	}
}

// CheckTimeouts removes and fails every pending call older than the request
// timeout, returning their IDs so the caller can notify the remote peer.
func (s *Session) CheckTimeouts() []RequestID {
	now := time.Now()

	s.mu.Lock()
	var timedOut []RequestID
	var calls []*pendingCall
	for id, pc := range s.pending {
		if now.Sub(pc.created) > s.requestTimeout {
			timedOut = append(timedOut, id)
			calls = append(calls, pc)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, pc := range calls {
		pc.ch <- callResult{err: ErrTimeout}
	}
	return timedOut
}

// HasPending reports whether an outbound call with the given ID is waiting.
func (s *Session) HasPending(id RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// SetRequestTimeout configures the outbound call timeout.
func (s *Session) SetRequestTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestTimeout = timeout
}

// RequestTimeout returns the configured outbound call timeout.
func (s *Session) RequestTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestTimeout
}

// ServerCapabilities returns the negotiated server capability set.
func (s *Session) ServerCapabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverCaps
}

// SetServerCapabilities records the negotiated server capability set.
func (s *Session) SetServerCapabilities(caps ServerCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverCaps = caps
}

// ClientCapabilities returns the negotiated client capability set.
func (s *Session) ClientCapabilities() ClientCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCaps
}

// SetClientCapabilities records the negotiated client capability set.
func (s *Session) SetClientCapabilities(caps ClientCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientCaps = caps
}

// ProtocolVersion returns the negotiated protocol version string.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// SetProtocolVersion records the negotiated protocol version string.
func (s *Session) SetProtocolVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
}

// ID returns the transport session identifier, if one was assigned.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetID records the transport session identifier.
func (s *Session) SetID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}
