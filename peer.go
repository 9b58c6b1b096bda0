package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// peer composes a transport, a session and a router into one runtime. It
// drives the inbound dispatch (responses to the session, requests and
// notifications to the router) and exposes the outbound call and notify
// primitives the Server and Client roles build on.
type peer struct {
	session *Session
	router  *Router
	logger  *slog.Logger

	mu        sync.Mutex
	transport Transport
	// inflight tracks inbound requests still running, so a
	// notifications/cancelled frame can signal their handlers.
	inflight map[RequestID]context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(logger *slog.Logger) *peer {
	if logger == nil {
		logger = slog.Default()
	}
	return &peer{
		session:  NewSession(),
		router:   NewRouter(logger),
		logger:   logger,
		inflight: make(map[RequestID]context.CancelFunc),
		done:     make(chan struct{}),
	}
}

// connect takes exclusive ownership of the transport and starts delivery.
func (p *peer) connect(t Transport) error {
	p.mu.Lock()
	if p.transport != nil {
		p.mu.Unlock()
		return errors.New("peer already connected")
	}
	p.transport = t
	p.mu.Unlock()

	if err := t.Start(p.handleMessage, p.handleError); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	go p.sweepTimeouts()
	return nil
}

func (p *peer) currentTransport() Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport
}

func (p *peer) send(msg Message) error {
	t := p.currentTransport()
	if t == nil {
		return ErrTransportClosed
	}
	return t.Send(msg)
}

// handleMessage classifies one inbound frame. Responses complete a pending
// outbound call; requests run their handler in a fresh goroutine so slow
// handlers never stall the read loop; notifications run inline to keep their
// ordering relative to subsequent requests.
func (p *peer) handleMessage(msg Message) {
	switch m := msg.(type) {
	case *Response:
		if !p.session.Resolve(m.ID, m) {
			// Late or unknown response, dropped per protocol.
			p.logger.Debug("dropping response with no pending request",
				slog.String("id", m.ID.String()))
		}
	case *Request:
		if resp := p.gateRequest(m); resp != nil {
			p.sendResponse(resp)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		p.registerInflight(m.ID, cancel)
		go func() {
			defer p.unregisterInflight(m.ID)
			if resp := p.router.Dispatch(ctx, m); resp != nil {
				p.sendResponse(resp)
			}
		}()
	case *Notification:
		if m.Method == methodNotificationsCancelled {
			p.handleCancelled(m)
		}
		p.router.Dispatch(context.Background(), m)
	}
}

// gateRequest enforces the lifecycle state machine: before the session is
// Ready only initialize and ping may be dispatched.
func (p *peer) gateRequest(req *Request) *Response {
	if req.Method == MethodInitialize || req.Method == MethodPing {
		return nil
	}
	if state := p.session.State(); state != StateReady {
		return &Response{
			ID: req.ID,
			Error: &Error{
				Code:    CodeInvalidRequest,
				Message: fmt.Sprintf("method %s not allowed while session is %s", req.Method, state),
			},
		}
	}
	return nil
}

func (p *peer) sendResponse(resp *Response) {
	if err := p.send(resp); err != nil {
		p.logger.Error("failed to send response",
			slog.String("id", resp.ID.String()),
			slog.String("err", err.Error()))
	}
}

func (p *peer) handleError(err error) {
	p.logger.Error("transport error", slog.String("err", err.Error()))
}

func (p *peer) registerInflight(id RequestID, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[id] = cancel
}

func (p *peer) unregisterInflight(id RequestID) {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	if ok {
		delete(p.inflight, id)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// handleCancelled best-effort signals the handler still running for the
// cancelled request; whether the handler honors the signal is up to it.
func (p *peer) handleCancelled(notif *Notification) {
	var params CancelledParams
	if err := json.Unmarshal(notif.Params, &params); err != nil {
		p.logger.Warn("malformed cancelled notification", slog.String("err", err.Error()))
		return
	}
	p.mu.Lock()
	cancel, ok := p.inflight[params.RequestID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// call sends one outbound request and waits for its resolution: the matching
// response, the request timeout, context cancellation or session shutdown.
// Exactly one of those wins; a response arriving after the rendezvous is
// resolved is dropped silently.
func (p *peer) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id, ch := p.session.RegisterPending(method)
	req := &Request{ID: id, Method: method, Params: rawParams}
	if err := p.send(req); err != nil {
		p.session.Fail(id, err)
		<-ch
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	timer := time.NewTimer(p.session.RequestTimeout())
	defer timer.Stop()

	var res callResult
	select {
	case res = <-ch:
	case <-timer.C:
		if p.session.Fail(id, ErrTimeout) {
			p.cancelRemote(id, "request timed out")
		}
		res = <-ch
	case <-ctx.Done():
		if p.session.Fail(id, ctx.Err()) {
			p.cancelRemote(id, "caller cancelled the request")
		}
		res = <-ch
	case <-p.done:
		p.session.Fail(id, ErrTransportClosed)
		res = <-ch
	}

	if res.err != nil {
		return nil, fmt.Errorf("%s: %w", method, res.err)
	}
	if res.resp.Error != nil {
		return nil, res.resp.Error
	}
	return res.resp.Result, nil
}

// notify sends one outbound notification; it never waits for a response.
func (p *peer) notify(method string, params any) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return err
	}
	return p.send(&Notification{Method: method, Params: rawParams})
}

// cancelRemote tells the remote peer to stop work on an outbound request.
func (p *peer) cancelRemote(id RequestID, reason string) {
	err := p.notify(methodNotificationsCancelled, CancelledParams{RequestID: id, Reason: reason})
	if err != nil && !errors.Is(err, ErrTransportClosed) {
		p.logger.Warn("failed to send cancelled notification",
			slog.String("id", id.String()),
			slog.String("err", err.Error()))
	}
}

// sweepTimeouts periodically expires pending calls older than the request
// timeout, and tells the remote peer to stop the work.
func (p *peer) sweepTimeouts() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			for _, id := range p.session.CheckTimeouts() {
				p.cancelRemote(id, "request timed out")
			}
		}
	}
}

// shutdown closes the transport, fails all pending calls and moves the
// session to Closed. It is idempotent.
func (p *peer) shutdown() {
	p.closeOnce.Do(func() {
		p.session.SetState(StateShuttingDown)
		close(p.done)
		if t := p.currentTransport(); t != nil {
			t.Shutdown()
		}
		p.session.FailAll(ErrTransportClosed)
		p.session.SetState(StateClosed)
	})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}
