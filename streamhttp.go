package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// Header names used by the Streamable HTTP transport.
const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "MCP-Protocol-Version"
)

// StreamableHTTPServer is the server side of the Streamable HTTP transport.
// It is an http.Handler serving a single path: POST carries client-to-server
// messages (responses returned inline as JSON or streamed as server-sent
// events, chosen by the Accept header), GET opens a long-lived event stream
// for server-originated messages, and DELETE terminates a session. Sessions
// are identified by the Mcp-Session-Id header, issued on the initial
// initialize request.
//
// Instances must be created with NewStreamableHTTPServer and mounted on an
// http server by the caller.
type StreamableHTTPServer struct {
	logger         *slog.Logger
	allowedOrigins []glob.Glob
	responseWait   time.Duration

	mu         sync.Mutex
	sessions   map[string]*httpServerSession
	collectors map[RequestID]chan *Response
	onMessage  MessageHandler
	onError    ErrorHandler
	started    bool
	shut       bool

	done chan struct{}
}

// httpServerSession is the per-session state: the identifier and, while a GET
// stream is open, the event sink feeding that client.
type httpServerSession struct {
	id string

	mu   sync.Mutex
	sink *sse.Session
}

// StreamableHTTPServerOption configures a StreamableHTTPServer.
type StreamableHTTPServerOption func(*StreamableHTTPServer)

// WithAllowedOrigins restricts the Origin header to the given glob patterns.
// Requests carrying an Origin matching none of them are rejected with 403.
// An empty allow-list admits every origin.
func WithAllowedOrigins(patterns ...string) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		for _, pattern := range patterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				s.logger.Warn("ignoring invalid origin pattern",
					slog.String("pattern", pattern),
					slog.String("err", err.Error()))
				continue
			}
			s.allowedOrigins = append(s.allowedOrigins, g)
		}
	}
}

// WithHTTPServerLogger sets the logger for the server transport.
func WithHTTPServerLogger(logger *slog.Logger) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.logger = logger
	}
}

// WithResponseWait bounds how long a POST waits for the responses to the
// requests it delivered.
func WithResponseWait(d time.Duration) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.responseWait = d
	}
}

// NewStreamableHTTPServer creates a server-side Streamable HTTP transport.
func NewStreamableHTTPServer(options ...StreamableHTTPServerOption) *StreamableHTTPServer {
	s := &StreamableHTTPServer{
		logger:       slog.Default(),
		responseWait: 30 * time.Second,
		sessions:     make(map[string]*httpServerSession),
		collectors:   make(map[RequestID]chan *Response),
		done:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "streamable-http-server"))
	return s
}

// Start registers the inbound delivery callbacks. The HTTP listener itself is
// the caller's: mount the transport on any mux and serve it.
func (s *StreamableHTTPServer) Start(onMessage MessageHandler, onError ErrorHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return nil
	}
	s.onMessage = onMessage
	s.onError = onError
	s.started = true
	return nil
}

// Send delivers one outbound frame. Responses are routed back to the POST
// that carried their request; requests and notifications are multicast to
// every open event stream. A frame with no reachable sink is dropped.
func (s *StreamableHTTPServer) Send(msg Message) error {
	s.mu.Lock()
	if s.shut {
		s.mu.Unlock()
		return ErrTransportClosed
	}
	if resp, ok := msg.(*Response); ok {
		if ch, ok := s.collectors[resp.ID]; ok {
			delete(s.collectors, resp.ID)
			s.mu.Unlock()
			ch <- resp
			return nil
		}
	}
	sessions := make([]*httpServerSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		sess.deliver(data, s.logger)
	}
	return nil
}

// SendToSession delivers one frame to a single session's event stream.
func (s *StreamableHTTPServer) SendToSession(sessionID string, msg Message) error {
	s.mu.Lock()
	if s.shut {
		s.mu.Unlock()
		return ErrTransportClosed
	}
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	sess.deliver(data, s.logger)
	return nil
}

// Shutdown terminates every session and rejects further traffic. Idempotent.
func (s *StreamableHTTPServer) Shutdown() {
	s.mu.Lock()
	if s.shut {
		s.mu.Unlock()
		return
	}
	s.shut = true
	s.sessions = make(map[string]*httpServerSession)
	s.collectors = make(map[RequestID]chan *Response)
	close(s.done)
	s.mu.Unlock()
}

// Connected reports whether the transport accepts traffic.
func (s *StreamableHTTPServer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.shut
}

func (s *StreamableHTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *StreamableHTTPServer) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, g := range s.allowedOrigins {
		if g.Match(origin) {
			return true
		}
	}
	s.logger.Warn("rejected disallowed origin", slog.String("origin", origin))
	http.Error(w, "origin not allowed", http.StatusForbidden)
	return false
}

func (s *StreamableHTTPServer) checkProtocolVersion(w http.ResponseWriter, r *http.Request) bool {
	version := r.Header.Get(headerProtocolVersion)
	if version == "" || slices.Contains(supportedProtocolVersions, version) {
		return true
	}
	http.Error(w, "unsupported protocol version", http.StatusBadRequest)
	return false
}

func (s *StreamableHTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.checkProtocolVersion(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	msgs, batch, err := parseBody(body)
	if err != nil {
		s.writeParseError(w, err)
		return
	}

	sess, ok := s.resolveSession(w, r, msgs)
	if !ok {
		return
	}
	w.Header().Set(headerSessionID, sess.id)

	// Register a rendezvous for each request in the body before dispatching,
	// so responses cannot race past the collector.
	var ids []RequestID
	for _, msg := range msgs {
		if req, isReq := msg.(*Request); isReq {
			ids = append(ids, req.ID)
		}
	}
	responses := make(chan *Response, len(ids))
	s.mu.Lock()
	onMessage := s.onMessage
	for _, id := range ids {
		s.collectors[id] = responses
	}
	s.mu.Unlock()
	defer s.dropCollectors(ids)

	if onMessage == nil {
		http.Error(w, "transport not started", http.StatusServiceUnavailable)
		return
	}
	for _, msg := range msgs {
		onMessage(msg)
	}

	if len(ids) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsEventStream(r) {
		s.respondEventStream(w, r, responses, len(ids))
		return
	}
	s.respondJSON(w, r, responses, len(ids), batch)
}

// respondEventStream streams each response as one data event, then closes
// the stream with a done event.
func (s *StreamableHTTPServer) respondEventStream(
	w http.ResponseWriter,
	r *http.Request,
	responses <-chan *Response,
	want int,
) {
	sink, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade to event stream", slog.String("err", err.Error()))
		http.Error(w, "failed to open event stream", http.StatusInternalServerError)
		return
	}

	timer := time.NewTimer(s.responseWait)
	defer timer.Stop()

	for range want {
		var resp *Response
		select {
		case resp = <-responses:
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-timer.C:
			s.logger.Warn("timed out waiting for responses")
			return
		}

		data, err := EncodeMessage(resp)
		if err != nil {
			s.logger.Error("failed to encode response", slog.String("err", err.Error()))
			continue
		}
		ev := &sse.Message{}
		ev.AppendData(string(data))
		if err := sink.Send(ev); err != nil {
			return
		}
		if err := sink.Flush(); err != nil {
			return
		}
	}

	doneEv := &sse.Message{Type: sse.Type("done")}
	doneEv.AppendData("{}")
	if err := sink.Send(doneEv); err == nil {
		_ = sink.Flush()
	}
}

// respondJSON collects the responses and returns them as an ordinary JSON
// body: a single object for a single request, an array for a batch.
func (s *StreamableHTTPServer) respondJSON(
	w http.ResponseWriter,
	r *http.Request,
	responses <-chan *Response,
	want int,
	batch bool,
) {
	collected := make([]Message, 0, want)
	timer := time.NewTimer(s.responseWait)
	defer timer.Stop()

	for range want {
		select {
		case resp := <-responses:
			collected = append(collected, resp)
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-timer.C:
			s.logger.Warn("timed out waiting for responses")
			http.Error(w, "timed out waiting for responses", http.StatusInternalServerError)
			return
		}
	}

	var body []byte
	var err error
	if batch {
		body, err = EncodeBatch(collected)
	} else {
		body, err = EncodeMessage(collected[0])
	}
	if err != nil {
		http.Error(w, "failed to encode responses", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("failed to write response body", slog.String("err", err.Error()))
	}
}

// handleGet opens the long-lived event stream used for server-originated
// requests and notifications. The sink lives while the connection is open.
func (s *StreamableHTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	w.Header().Set(headerSessionID, sess.id)
	sink, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, "failed to open event stream", http.StatusInternalServerError)
		return
	}

	// Commit the stream so the client sees headers before the first message.
	hello := &sse.Message{}
	hello.AppendComment("ok")
	if err := sink.Send(hello); err != nil {
		return
	}
	if err := sink.Flush(); err != nil {
		return
	}

	sess.setSink(sink)
	defer sess.setSink(nil)

	select {
	case <-r.Context().Done():
	case <-s.done:
	}
}

func (s *StreamableHTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		http.Error(w, "missing session header", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.logger.Info("session terminated", slog.String("sessionID", id))
	w.WriteHeader(http.StatusOK)
}

// resolveSession finds the session named by the request header, or creates a
// fresh one when the body is the initial initialize request. Any other
// request without a known session is answered with 404.
func (s *StreamableHTTPServer) resolveSession(
	w http.ResponseWriter,
	r *http.Request,
	msgs []Message,
) (*httpServerSession, bool) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		if !containsInitialize(msgs) {
			http.Error(w, "missing session header", http.StatusNotFound)
			return nil, false
		}
		sess := &httpServerSession{id: uuid.New().String()}
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		s.logger.Info("session created", slog.String("sessionID", sess.id))
		return sess, true
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *StreamableHTTPServer) lookupSession(w http.ResponseWriter, r *http.Request) (*httpServerSession, bool) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		http.Error(w, "missing session header", http.StatusNotFound)
		return nil, false
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *StreamableHTTPServer) dropCollectors(ids []RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.collectors, id)
	}
}

func (s *StreamableHTTPServer) writeParseError(w http.ResponseWriter, err error) {
	s.logger.Warn("failed to parse request body", slog.String("err", err.Error()))
	if s.onError != nil {
		s.onError(err)
	}
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": JSONRPCVersion,
		"id":      nil,
		"error": &Error{
			Code:    CodeParseError,
			Message: err.Error(),
		},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(body)
}

// deliver writes one data event to the session's sink, if open. Write
// failures mean the client went away mid-send; the frame is dropped for that
// sink.
func (sess *httpServerSession) deliver(data []byte, logger *slog.Logger) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.sink == nil {
		return
	}
	ev := &sse.Message{}
	ev.AppendData(string(data))
	if err := sess.sink.Send(ev); err != nil {
		logger.Warn("failed to send event", slog.String("sessionID", sess.id), slog.String("err", err.Error()))
		return
	}
	if err := sess.sink.Flush(); err != nil {
		logger.Warn("failed to flush event", slog.String("sessionID", sess.id), slog.String("err", err.Error()))
	}
}

func (sess *httpServerSession) setSink(sink *sse.Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.sink = sink
}

func parseBody(body []byte) ([]Message, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		msgs, err := ParseBatch(trimmed)
		return msgs, true, err
	}
	msg, err := ParseMessage(trimmed)
	if err != nil {
		return nil, false, err
	}
	return []Message{msg}, false, nil
}

func containsInitialize(msgs []Message) bool {
	for _, msg := range msgs {
		if req, ok := msg.(*Request); ok && req.Method == MethodInitialize {
			return true
		}
	}
	return false
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// StreamableHTTPClient is the client side of the Streamable HTTP transport.
// Every outbound frame is POSTed to the server; responses come back inline
// (JSON or a short event stream), and server-originated traffic arrives on a
// long-lived GET event stream opened once the session identifier is known.
//
// Instances must be created with NewStreamableHTTPClient.
type StreamableHTTPClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	maxEventSize int

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
	onMessage       MessageHandler
	onError         ErrorHandler
	started         bool
	shut            bool

	sessionKnown chan struct{}
	sessionOnce  sync.Once
	done         chan struct{}
}

// StreamableHTTPClientOption configures a StreamableHTTPClient.
type StreamableHTTPClientOption func(*StreamableHTTPClient)

// WithHTTPClientLogger sets the logger for the client transport.
func WithHTTPClientLogger(logger *slog.Logger) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.logger = logger
	}
}

// WithMaxEventSize bounds the size of a single inbound server-sent event.
func WithMaxEventSize(size int) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.maxEventSize = size
	}
}

// NewStreamableHTTPClient creates a client-side Streamable HTTP transport
// talking to url. A nil httpClient falls back to http.DefaultClient.
func NewStreamableHTTPClient(url string, httpClient *http.Client, options ...StreamableHTTPClientOption) *StreamableHTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &StreamableHTTPClient{
		url:             url,
		httpClient:      httpClient,
		logger:          slog.Default(),
		protocolVersion: ProtocolVersion,
		sessionKnown:    make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "streamable-http-client"))
	return c
}

// Start registers the delivery callbacks and arranges for the GET event
// stream to open once the server has issued a session identifier.
func (c *StreamableHTTPClient) Start(onMessage MessageHandler, onError ErrorHandler) error {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return nil
	}
	c.onMessage = onMessage
	c.onError = onError
	c.started = true
	c.mu.Unlock()

	go func() {
		select {
		case <-c.done:
			return
		case <-c.sessionKnown:
		}
		c.listenEventStream()
	}()
	return nil
}

// Send POSTs one frame to the server and feeds any inline responses back
// through the message callback.
func (c *StreamableHTTPClient) Send(msg Message) error {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return ErrTransportClosed
	}
	sessionID := c.sessionID
	protocolVersion := c.protocolVersion
	c.mu.Unlock()

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(headerProtocolVersion, protocolVersion)
	if sessionID != "" {
		req.Header.Set(headerSessionID, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if id := resp.Header.Get(headerSessionID); id != "" {
		c.setSessionID(id)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		go c.readEventStream(resp.Body)
		return nil
	}

	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	c.deliverBody(body)
	return nil
}

// Shutdown terminates the session with a DELETE and stops the event stream.
// Idempotent.
func (c *StreamableHTTPClient) Shutdown() {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return
	}
	c.shut = true
	sessionID := c.sessionID
	close(c.done)
	c.mu.Unlock()

	if sessionID == "" {
		return
	}
	req, err := http.NewRequest(http.MethodDelete, c.url, nil)
	if err != nil {
		return
	}
	req.Header.Set(headerSessionID, sessionID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to terminate session", slog.String("err", err.Error()))
		return
	}
	resp.Body.Close()
}

// Connected reports whether the transport accepts traffic.
func (c *StreamableHTTPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.shut
}

// SetProtocolVersion records the negotiated version, sent on every
// subsequent request in the MCP-Protocol-Version header.
func (c *StreamableHTTPClient) SetProtocolVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocolVersion = version
}

// SessionID returns the server-issued session identifier, if any.
func (c *StreamableHTTPClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *StreamableHTTPClient) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	c.sessionOnce.Do(func() {
		close(c.sessionKnown)
	})
}

// listenEventStream opens the long-lived GET stream for server-originated
// messages. Per the no-retry policy, a stream that ends is not reopened.
func (c *StreamableHTTPClient) listenEventStream() {
	c.mu.Lock()
	sessionID := c.sessionID
	protocolVersion := c.protocolVersion
	c.mu.Unlock()

	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(headerProtocolVersion, protocolVersion)
	req.Header.Set(headerSessionID, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to open event stream", slog.String("err", err.Error()))
		return
	}
	if resp.StatusCode != http.StatusOK ||
		!strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body.Close()
		c.logger.Debug("server does not expose an event stream",
			slog.Int("status", resp.StatusCode))
		return
	}

	go func() {
		<-c.done
		resp.Body.Close()
	}()
	c.readEventStream(resp.Body)
}

// readEventStream consumes one server-sent event stream, delivering each
// data event as a message until the stream ends or a done event arrives.
func (c *StreamableHTTPClient) readEventStream(body io.ReadCloser) {
	defer body.Close()

	var config *sse.ReadConfig
	if c.maxEventSize > 0 {
		config = &sse.ReadConfig{MaxEventSize: c.maxEventSize}
	}

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("failed to read event stream", slog.String("err", err.Error()))
			}
			return
		}
		switch ev.Type {
		case "", "message":
			c.deliverBody([]byte(ev.Data))
		case "done":
			return
		default:
			c.logger.Debug("ignoring unknown event type", slog.String("type", ev.Type))
		}
	}
}

// deliverBody parses one JSON body (single message or batch) and feeds each
// message to the delivery callback.
func (c *StreamableHTTPClient) deliverBody(body []byte) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return
	}

	c.mu.Lock()
	onMessage := c.onMessage
	onError := c.onError
	c.mu.Unlock()
	if onMessage == nil {
		return
	}

	msgs, _, err := parseBody(trimmed)
	if err != nil {
		c.logger.Warn("failed to parse inbound body", slog.String("err", err.Error()))
		if onError != nil {
			onError(err)
		}
		return
	}
	for _, msg := range msgs {
		onMessage(msg)
	}
}

var (
	_ Transport = (*StreamableHTTPServer)(nil)
	_ Transport = (*StreamableHTTPClient)(nil)
	_ Transport = (*Stdio)(nil)
)
