package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// RequestHandler consumes a request's parameters and returns a structured
// result or an error. Returning a *Error preserves its code in the response;
// any other error becomes an internal error response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler consumes a notification's parameters. Notifications
// produce no response, so failures are swallowed.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Router maps method names to handlers and turns handler outcomes into
// well-formed responses. Methods may declare a required capability, checked
// against the negotiated sets before dispatch.
//
// The registry lock is released before a handler runs, so handlers may safely
// re-enter the router, for example to update capabilities or register new
// methods.
type Router struct {
	mu sync.Mutex

	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	required      map[string]string

	serverCaps ServerCapabilities
	clientCaps ClientCapabilities

	logger *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		required:      make(map[string]string),
		logger:        logger.With(slog.String("component", "router")),
	}
}

// OnRequest registers a request handler for a method, replacing any previous
// registration.
func (r *Router) OnRequest(method string, handler RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[method] = handler
}

// OnNotification registers a notification handler for a method.
func (r *Router) OnNotification(method string, handler NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[method] = handler
}

// RequireCapability gates a method on a named capability. Dispatch rejects
// the method with an invalid-request error while the capability is absent
// from the negotiated sets.
func (r *Router) RequireCapability(method, capability string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.required[method] = capability
}

// SetCapabilities records the negotiated capability sets used for gating.
func (r *Router) SetCapabilities(serverCaps ServerCapabilities, clientCaps ClientCapabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverCaps = serverCaps
	r.clientCaps = clientCaps
}

// HasHandler reports whether any handler is registered for the method.
func (r *Router) HasHandler(method string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, req := r.requests[method]
	_, notif := r.notifications[method]
	return req || notif
}

// capabilityAllowed must be called with the lock held.
func (r *Router) capabilityAllowed(method string) bool {
	capability, ok := r.required[method]
	if !ok {
		return true
	}
	switch capability {
	case "tools":
		return r.serverCaps.Tools != nil
	case "resources":
		return r.serverCaps.Resources != nil
	case "prompts":
		return r.serverCaps.Prompts != nil
	case "logging":
		return r.serverCaps.Logging != nil
	case "completions":
		return r.serverCaps.Completions != nil
	case "sampling":
		return r.clientCaps.Sampling != nil
	case "roots":
		return r.clientCaps.Roots != nil
	case "elicitation":
		return r.clientCaps.Elicitation != nil
	}
	return false
}

// Dispatch routes one inbound message to its handler, producing at most one
// outbound message. Requests always yield a response; notifications never do;
// responses are the session's concern and yield nothing.
func (r *Router) Dispatch(ctx context.Context, msg Message) *Response {
	switch m := msg.(type) {
	case *Request:
		return r.dispatchRequest(ctx, m)
	case *Notification:
		r.dispatchNotification(ctx, m)
		return nil
	default:
		return nil
	}
}

func (r *Router) dispatchRequest(ctx context.Context, req *Request) *Response {
	r.mu.Lock()
	if !r.capabilityAllowed(req.Method) {
		r.mu.Unlock()
		return &Response{
			ID: req.ID,
			Error: &Error{
				Code:    CodeInvalidRequest,
				Message: "Capability not supported: " + req.Method,
			},
		}
	}
	handler, ok := r.requests[req.Method]
	r.mu.Unlock()

	if !ok {
		return &Response{
			ID: req.ID,
			Error: &Error{
				Code:    CodeMethodNotFound,
				Message: "Method not found: " + req.Method,
			},
		}
	}

	// The lock is not held here: handlers may re-enter the router.
	result, err := r.invoke(ctx, handler, req.Params)
	if err != nil {
		var protoErr *Error
		if !errors.As(err, &protoErr) {
			protoErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		return &Response{ID: req.ID, Error: protoErr}
	}

	raw, ok := result.(json.RawMessage)
	if !ok {
		var merr error
		raw, merr = json.Marshal(result)
		if merr != nil {
			return &Response{
				ID: req.ID,
				Error: &Error{
					Code:    CodeInternalError,
					Message: fmt.Sprintf("failed to marshal result: %v", merr),
				},
			}
		}
	}
	return &Response{ID: req.ID, Result: raw}
}

// invoke runs a request handler, converting a panic into an error so
// malformed input never takes the session down.
func (r *Router) invoke(ctx context.Context, handler RequestHandler, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, params)
}

func (r *Router) dispatchNotification(ctx context.Context, notif *Notification) {
	r.mu.Lock()
	handler, ok := r.notifications[notif.Method]
	r.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification handler panic",
				slog.String("method", notif.Method),
				slog.Any("panic", rec))
		}
	}()
	handler(ctx, notif.Params)
}
