package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// SamplingHandler answers a server's sampling/createMessage request by
// running a model inference over the given conversation.
type SamplingHandler func(ctx context.Context, params SamplingParams) (SamplingResult, error)

// ElicitationHandler answers a server's elicitation/create request by
// collecting user input matching the requested schema.
type ElicitationHandler func(ctx context.Context, params ElicitationParams) (ElicitationResult, error)

// RootsHandler answers a server's roots/list request.
type RootsHandler func(ctx context.Context) ([]Root, error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// Client is the host role of an MCP session. It drives the initialize
// handshake, invokes the server's tools, resources and prompts, and answers
// the server's sampling, elicitation and roots requests through the handlers
// registered at construction time. The advertised client capabilities are
// inferred from those handlers.
//
// A Client must be created with NewClient, attached with Connect and
// handshaken with Initialize before other operations.
type Client struct {
	peer *peer

	info   Info
	logger *slog.Logger

	samplingHandler    SamplingHandler
	elicitationHandler ElicitationHandler
	rootsHandler       RootsHandler

	onToolsChanged     func()
	onResourcesChanged func()
	onResourceUpdated  func(uri string)
	onPromptsChanged   func()
	onProgress         func(params ProgressParams)
	onLog              func(params LogParams)

	requestTimeout time.Duration

	mu           sync.Mutex
	capabilities ClientCapabilities
	serverInfo   Info
	instructions string
}

// WithSamplingHandler registers the sampling handler; its presence advertises
// the sampling capability.
func WithSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) {
		c.samplingHandler = handler
	}
}

// WithElicitationHandler registers the elicitation handler; its presence
// advertises the elicitation capability.
func WithElicitationHandler(handler ElicitationHandler) ClientOption {
	return func(c *Client) {
		c.elicitationHandler = handler
	}
}

// WithRootsHandler registers the roots handler; its presence advertises the
// roots capability.
func WithRootsHandler(handler RootsHandler) ClientOption {
	return func(c *Client) {
		c.rootsHandler = handler
	}
}

// WithToolListChangedFunc registers a callback for tools list changes.
func WithToolListChangedFunc(fn func()) ClientOption {
	return func(c *Client) {
		c.onToolsChanged = fn
	}
}

// WithResourceListChangedFunc registers a callback for resource list changes.
func WithResourceListChangedFunc(fn func()) ClientOption {
	return func(c *Client) {
		c.onResourcesChanged = fn
	}
}

// WithResourceUpdatedFunc registers a callback for subscribed resource
// updates.
func WithResourceUpdatedFunc(fn func(uri string)) ClientOption {
	return func(c *Client) {
		c.onResourceUpdated = fn
	}
}

// WithPromptListChangedFunc registers a callback for prompt list changes.
func WithPromptListChangedFunc(fn func()) ClientOption {
	return func(c *Client) {
		c.onPromptsChanged = fn
	}
}

// WithProgressFunc registers a callback for progress notifications.
func WithProgressFunc(fn func(params ProgressParams)) ClientOption {
	return func(c *Client) {
		c.onProgress = fn
	}
}

// WithLogFunc registers a callback for server log message notifications.
func WithLogFunc(fn func(params LogParams)) ClientOption {
	return func(c *Client) {
		c.onLog = fn
	}
}

// WithClientRequestTimeout configures the outbound call timeout.
func WithClientRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "client"),
		)
	}
}

// NewClient creates an MCP client with the given implementation info.
func NewClient(info Info, options ...ClientOption) *Client {
	c := &Client{
		info:   info,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.peer = newPeer(c.logger)
	if c.requestTimeout > 0 {
		c.peer.session.SetRequestTimeout(c.requestTimeout)
	}

	caps := ClientCapabilities{}
	if c.samplingHandler != nil {
		caps.Sampling = &SamplingCapability{}
	}
	if c.elicitationHandler != nil {
		caps.Elicitation = &ElicitationCapability{}
	}
	if c.rootsHandler != nil {
		caps.Roots = &RootsCapability{}
	}
	c.capabilities = caps

	c.registerHandlers()
	return c
}

// Connect attaches the client to a transport and starts message delivery.
func (c *Client) Connect(t Transport) error {
	return c.peer.connect(t)
}

// Close ends the session: the transport is shut down and pending calls fail
// with ErrTransportClosed.
func (c *Client) Close() {
	c.peer.shutdown()
}

// Session exposes the client's session state.
func (c *Client) Session() *Session {
	return c.peer.session
}

// Initialize performs the lifecycle handshake: it sends the initialize
// request, verifies the negotiated protocol version, records the server's
// capabilities and confirms with notifications/initialized. The session is
// Ready once Initialize returns successfully.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	session := c.peer.session
	session.SetState(StateInitializing)

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}
	raw, err := c.peer.call(ctx, MethodInitialize, params)
	if err != nil {
		session.SetState(StateUninitialized)
		return nil, err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		session.SetState(StateUninitialized)
		return nil, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	if !slices.Contains(supportedProtocolVersions, result.ProtocolVersion) {
		session.SetState(StateUninitialized)
		return nil, &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("unsupported protocol version: %s", result.ProtocolVersion),
		}
	}

	session.SetProtocolVersion(result.ProtocolVersion)
	session.SetServerCapabilities(result.Capabilities)
	session.SetClientCapabilities(c.capabilities)
	c.peer.router.SetCapabilities(result.Capabilities, c.capabilities)

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.instructions = result.Instructions
	c.mu.Unlock()

	// Tell protocol-version-aware transports the value to echo from now on.
	if vt, ok := c.peer.currentTransport().(interface{ SetProtocolVersion(string) }); ok {
		vt.SetProtocolVersion(result.ProtocolVersion)
	}

	session.SetState(StateReady)

	if err := c.peer.notify(methodNotificationsInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return &result, nil
}

// ServerInfo returns the connected server's implementation info.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Instructions returns the usage instructions the server sent at initialize
// time, if any.
func (c *Client) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// ServerCapabilities returns the negotiated server capability set.
func (c *Client) ServerCapabilities() ServerCapabilities {
	return c.peer.session.ServerCapabilities()
}

// Ping sends an empty request and waits for the empty response.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.peer.call(ctx, MethodPing, struct{}{})
	return err
}

// Cancel tells the server to stop work on an outbound request.
func (c *Client) Cancel(id RequestID, reason string) error {
	return c.peer.notify(methodNotificationsCancelled, CancelledParams{RequestID: id, Reason: reason})
}

// NotifyRootsListChanged tells the server that the set of roots returned by
// the roots handler has changed.
func (c *Client) NotifyRootsListChanged() error {
	return c.peer.notify(methodNotificationsRootsListChanged, nil)
}

// ListTools retrieves one page of the server's tools.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	var result ListToolsResult
	err := c.callInto(ctx, MethodToolsList, params, &result)
	return result, err
}

// CallTool invokes a tool by name with opaque arguments.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	var result CallToolResult
	err := c.callInto(ctx, MethodToolsCall, params, &result)
	return result, err
}

// ListResources retrieves one page of the server's resources.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	var result ListResourcesResult
	err := c.callInto(ctx, MethodResourcesList, params, &result)
	return result, err
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	var result ReadResourceResult
	err := c.callInto(ctx, MethodResourcesRead, params, &result)
	return result, err
}

// ListResourceTemplates retrieves one page of the server's resource
// templates.
func (c *Client) ListResourceTemplates(
	ctx context.Context,
	params ListResourceTemplatesParams,
) (ListResourceTemplatesResult, error) {
	var result ListResourceTemplatesResult
	err := c.callInto(ctx, MethodResourcesTemplatesList, params, &result)
	return result, err
}

// SubscribeResource subscribes to update notifications for a resource URI.
func (c *Client) SubscribeResource(ctx context.Context, params SubscribeResourceParams) error {
	_, err := c.peer.call(ctx, MethodResourcesSubscribe, params)
	return err
}

// UnsubscribeResource removes a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, params UnsubscribeResourceParams) error {
	_, err := c.peer.call(ctx, MethodResourcesUnsubscribe, params)
	return err
}

// ListPrompts retrieves one page of the server's prompts.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error) {
	var result ListPromptsResult
	err := c.callInto(ctx, MethodPromptsList, params, &result)
	return result, err
}

// GetPrompt renders a prompt by name with named arguments.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	var result GetPromptResult
	err := c.callInto(ctx, MethodPromptsGet, params, &result)
	return result, err
}

// Complete requests completion suggestions for a prompt or resource template
// argument.
func (c *Client) Complete(ctx context.Context, params CompleteParams) (CompletionResult, error) {
	var result CompletionResult
	err := c.callInto(ctx, MethodCompletionComplete, params, &result)
	return result, err
}

// SetLogLevel selects the minimum severity of log messages the server sends.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	_, err := c.peer.call(ctx, MethodLoggingSetLevel, SetLogLevelParams{Level: level})
	return err
}

func (c *Client) callInto(ctx context.Context, method string, params, result any) error {
	raw, err := c.peer.call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

func (c *Client) registerHandlers() {
	router := c.peer.router

	router.OnRequest(MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return json.RawMessage("{}"), nil
	})

	router.OnRequest(MethodSamplingCreateMessage, c.handleSampling)
	router.RequireCapability(MethodSamplingCreateMessage, "sampling")

	router.OnRequest(MethodElicitationCreate, c.handleElicitation)
	router.RequireCapability(MethodElicitationCreate, "elicitation")

	router.OnRequest(MethodRootsList, c.handleRootsList)
	router.RequireCapability(MethodRootsList, "roots")

	router.OnNotification(methodNotificationsToolsListChanged, func(context.Context, json.RawMessage) {
		if c.onToolsChanged != nil {
			c.onToolsChanged()
		}
	})
	router.OnNotification(methodNotificationsResourcesListChanged, func(context.Context, json.RawMessage) {
		if c.onResourcesChanged != nil {
			c.onResourcesChanged()
		}
	})
	router.OnNotification(methodNotificationsResourcesUpdated, func(_ context.Context, raw json.RawMessage) {
		if c.onResourceUpdated == nil {
			return
		}
		var params ResourceUpdatedParams
		if err := json.Unmarshal(raw, &params); err != nil {
			c.logger.Warn("malformed resource updated notification", slog.String("err", err.Error()))
			return
		}
		c.onResourceUpdated(params.URI)
	})
	router.OnNotification(methodNotificationsPromptsListChanged, func(context.Context, json.RawMessage) {
		if c.onPromptsChanged != nil {
			c.onPromptsChanged()
		}
	})
	router.OnNotification(methodNotificationsProgress, func(_ context.Context, raw json.RawMessage) {
		if c.onProgress == nil {
			return
		}
		var params ProgressParams
		if err := json.Unmarshal(raw, &params); err != nil {
			c.logger.Warn("malformed progress notification", slog.String("err", err.Error()))
			return
		}
		c.onProgress(params)
	})
	router.OnNotification(methodNotificationsMessage, func(_ context.Context, raw json.RawMessage) {
		if c.onLog == nil {
			return
		}
		var params LogParams
		if err := json.Unmarshal(raw, &params); err != nil {
			c.logger.Warn("malformed log notification", slog.String("err", err.Error()))
			return
		}
		c.onLog(params)
	})
}

func (c *Client) handleSampling(ctx context.Context, raw json.RawMessage) (any, error) {
	if c.samplingHandler == nil {
		return nil, &Error{Code: CodeMethodNotFound, Message: "No sampling handler registered"}
	}
	var params SamplingParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	result, err := c.samplingHandler(ctx, params)
	if err != nil {
		return nil, wrapHandlerError(err)
	}
	return result, nil
}

func (c *Client) handleElicitation(ctx context.Context, raw json.RawMessage) (any, error) {
	if c.elicitationHandler == nil {
		return nil, &Error{Code: CodeMethodNotFound, Message: "No elicitation handler registered"}
	}
	var params ElicitationParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	result, err := c.elicitationHandler(ctx, params)
	if err != nil {
		return nil, wrapHandlerError(err)
	}
	return result, nil
}

func (c *Client) handleRootsList(ctx context.Context, _ json.RawMessage) (any, error) {
	if c.rootsHandler == nil {
		return nil, &Error{Code: CodeMethodNotFound, Message: "No roots handler registered"}
	}
	roots, err := c.rootsHandler(ctx)
	if err != nil {
		return nil, wrapHandlerError(err)
	}
	return RootsListResult{Roots: roots}, nil
}

// wrapHandlerError keeps explicit protocol errors intact and downgrades
// everything else to an internal error.
func wrapHandlerError(err error) error {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}
