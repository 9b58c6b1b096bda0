package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/yosida95/uritemplate/v3"
)

// ToolHandler executes one tool call. The arguments are the opaque JSON
// object supplied by the caller; the handler's error becomes a tool-level
// failure result rather than a protocol error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (CallToolResult, error)

// ResourceHandler reads one resource by URI.
type ResourceHandler func(ctx context.Context, uri string) ([]ResourceContents, error)

// PromptHandler renders one prompt with the given named arguments.
type PromptHandler func(ctx context.Context, name string, args map[string]string) (GetPromptResult, error)

// CompletionHandler produces completion suggestions for a prompt or resource
// template argument.
type CompletionHandler func(ctx context.Context, ref CompletionRef, arg CompletionArgument) (CompletionResult, error)

// RootsListWatcher is notified when the connected client reports that its
// roots list changed.
type RootsListWatcher interface {
	OnRootsListChanged()
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server is the provider role of an MCP session. It registers tools,
// resources and prompts, serves the protocol's listing and invocation
// methods over any Transport, and can send requests of its own back to the
// client (sampling, elicitation, roots) once the session is ready.
//
// A Server must be created with NewServer. Registration methods may be
// called both before and while serving; mutations while serving emit the
// matching list-changed notifications.
type Server struct {
	peer *peer

	info         Info
	instructions string
	pageSize     int
	logger       *slog.Logger

	rootsListWatcher RootsListWatcher

	mu            sync.Mutex
	tools         pagedStore[Tool]
	toolHandlers  map[string]ToolHandler
	resources     pagedStore[Resource]
	resourceReads map[string]ResourceHandler
	templates     pagedStore[ResourceTemplate]
	templateReads []templateRead
	prompts       pagedStore[Prompt]
	promptReads   map[string]PromptHandler
	completion    CompletionHandler
	subscriptions map[string]struct{}
	minLogLevel   LogLevel
	serving       bool
}

// templateRead pairs a parsed URI template with the handler reading the
// resources it describes.
type templateRead struct {
	raw     string
	tmpl    *uritemplate.Template
	handler ResourceHandler
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithPageSize sets the page size used by the listing methods.
func WithPageSize(size int) ServerOption {
	return func(s *Server) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithCompletionHandler sets the handler answering completion/complete.
func WithCompletionHandler(handler CompletionHandler) ServerOption {
	return func(s *Server) {
		s.completion = handler
	}
}

// WithRootsListWatcher registers a watcher for client roots list changes.
func WithRootsListWatcher(watcher RootsListWatcher) ServerOption {
	return func(s *Server) {
		s.rootsListWatcher = watcher
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an MCP server with the given implementation info.
func NewServer(info Info, options ...ServerOption) *Server {
	s := &Server{
		info:          info,
		pageSize:      defaultPageSize,
		logger:        slog.Default(),
		toolHandlers:  make(map[string]ToolHandler),
		resourceReads: make(map[string]ResourceHandler),
		promptReads:   make(map[string]PromptHandler),
		subscriptions: make(map[string]struct{}),
		minLogLevel:   LogLevelInfo,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(
		slog.String("package", "go-mcp"),
		slog.String("component", "server"),
	)
	s.tools.pageSize = s.pageSize
	s.resources.pageSize = s.pageSize
	s.templates.pageSize = s.pageSize
	s.prompts.pageSize = s.pageSize

	s.peer = newPeer(s.logger)
	s.registerHandlers()
	return s
}

// Serve attaches the server to a transport and starts the session. It
// returns once delivery is running; use Shutdown to end the session.
func (s *Server) Serve(t Transport) error {
	if err := s.peer.connect(t); err != nil {
		return err
	}
	s.mu.Lock()
	s.serving = true
	s.mu.Unlock()
	return nil
}

// ServeStdio serves the session over the process's stdin and stdout.
func (s *Server) ServeStdio() error {
	return s.Serve(NewStdio(os.Stdin, os.Stdout))
}

// Shutdown ends the session: the transport is closed and pending outbound
// calls fail with ErrTransportClosed.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.serving = false
	s.mu.Unlock()
	s.peer.shutdown()
}

// Session exposes the server's session state.
func (s *Server) Session() *Session {
	return s.peer.session
}

// SetRequestTimeout configures the timeout for server-originated requests.
func (s *Server) SetRequestTimeout(timeout time.Duration) {
	s.peer.session.SetRequestTimeout(timeout)
}

// AddTool registers a tool and its handler, replacing any tool with the same
// name. While serving, registration emits notifications/tools/list_changed.
func (s *Server) AddTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	s.tools.upsert(tool, func(t Tool) bool { return t.Name == tool.Name })
	s.toolHandlers[tool.Name] = handler
	serving := s.serving
	s.mu.Unlock()

	if serving {
		s.notifyChanged(methodNotificationsToolsListChanged)
	}
}

// RemoveTool deregisters a tool by name.
func (s *Server) RemoveTool(name string) {
	s.mu.Lock()
	removed := s.tools.remove(func(t Tool) bool { return t.Name == name })
	delete(s.toolHandlers, name)
	serving := s.serving
	s.mu.Unlock()

	if removed && serving {
		s.notifyChanged(methodNotificationsToolsListChanged)
	}
}

// AddResource registers a resource and its read handler, replacing any
// resource with the same URI.
func (s *Server) AddResource(resource Resource, handler ResourceHandler) {
	s.mu.Lock()
	s.resources.upsert(resource, func(r Resource) bool { return r.URI == resource.URI })
	s.resourceReads[resource.URI] = handler
	serving := s.serving
	s.mu.Unlock()

	if serving {
		s.notifyChanged(methodNotificationsResourcesListChanged)
	}
}

// RemoveResource deregisters a resource by URI.
func (s *Server) RemoveResource(uri string) {
	s.mu.Lock()
	removed := s.resources.remove(func(r Resource) bool { return r.URI == uri })
	delete(s.resourceReads, uri)
	serving := s.serving
	s.mu.Unlock()

	if removed && serving {
		s.notifyChanged(methodNotificationsResourcesListChanged)
	}
}

// AddResourceTemplate registers a URI template and the handler reading the
// resources it matches. The template must be a valid RFC 6570 template.
func (s *Server) AddResourceTemplate(tmpl ResourceTemplate, handler ResourceHandler) error {
	parsed, err := uritemplate.New(tmpl.URITemplate)
	if err != nil {
		return fmt.Errorf("invalid resource template %q: %w", tmpl.URITemplate, err)
	}

	s.mu.Lock()
	s.templates.upsert(tmpl, func(t ResourceTemplate) bool { return t.URITemplate == tmpl.URITemplate })
	replaced := false
	for i, tr := range s.templateReads {
		if tr.raw == tmpl.URITemplate {
			s.templateReads[i] = templateRead{raw: tmpl.URITemplate, tmpl: parsed, handler: handler}
			replaced = true
			break
		}
	}
	if !replaced {
		s.templateReads = append(s.templateReads, templateRead{raw: tmpl.URITemplate, tmpl: parsed, handler: handler})
	}
	serving := s.serving
	s.mu.Unlock()

	if serving {
		s.notifyChanged(methodNotificationsResourcesListChanged)
	}
	return nil
}

// AddPrompt registers a prompt and its handler, replacing any prompt with
// the same name.
func (s *Server) AddPrompt(prompt Prompt, handler PromptHandler) {
	s.mu.Lock()
	s.prompts.upsert(prompt, func(p Prompt) bool { return p.Name == prompt.Name })
	s.promptReads[prompt.Name] = handler
	serving := s.serving
	s.mu.Unlock()

	if serving {
		s.notifyChanged(methodNotificationsPromptsListChanged)
	}
}

// RemovePrompt deregisters a prompt by name.
func (s *Server) RemovePrompt(name string) {
	s.mu.Lock()
	removed := s.prompts.remove(func(p Prompt) bool { return p.Name == name })
	delete(s.promptReads, name)
	serving := s.serving
	s.mu.Unlock()

	if removed && serving {
		s.notifyChanged(methodNotificationsPromptsListChanged)
	}
}

// Log emits a notifications/message frame, filtered by the minimum level the
// client selected through logging/setLevel.
func (s *Server) Log(level LogLevel, logger string, data any) {
	s.mu.Lock()
	minLevel := s.minLogLevel
	serving := s.serving
	s.mu.Unlock()
	if !serving || level < minLevel {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal log data", slog.String("err", err.Error()))
		return
	}
	params := LogParams{Level: level, Logger: logger, Data: raw}
	if err := s.peer.notify(methodNotificationsMessage, params); err != nil {
		s.logger.Error("failed to send log message", slog.String("err", err.Error()))
	}
}

// SendProgress emits a notifications/progress frame for the operation the
// token identifies. The token is an integer or a string; total may be zero
// when unknown.
func (s *Server) SendProgress(token any, progress, total float64, message string) error {
	rawToken, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal progress token: %w", err)
	}
	return s.peer.notify(methodNotificationsProgress, ProgressParams{
		ProgressToken: rawToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// NotifyResourceUpdated emits notifications/resources/updated for uri, but
// only while some client subscription covers it.
func (s *Server) NotifyResourceUpdated(uri string) {
	s.mu.Lock()
	_, subscribed := s.subscriptions[uri]
	serving := s.serving
	s.mu.Unlock()
	if !subscribed || !serving {
		return
	}
	if err := s.peer.notify(methodNotificationsResourcesUpdated, ResourceUpdatedParams{URI: uri}); err != nil {
		s.logger.Error("failed to send resource updated notification",
			slog.String("uri", uri),
			slog.String("err", err.Error()))
	}
}

// RequestSampling asks the client to run a model inference. The client must
// have advertised the sampling capability at initialize time.
func (s *Server) RequestSampling(ctx context.Context, params SamplingParams) (SamplingResult, error) {
	if err := s.requireClientCapability("sampling"); err != nil {
		return SamplingResult{}, err
	}
	raw, err := s.peer.call(ctx, MethodSamplingCreateMessage, params)
	if err != nil {
		return SamplingResult{}, err
	}
	var result SamplingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return SamplingResult{}, fmt.Errorf("failed to unmarshal sampling result: %w", err)
	}
	return result, nil
}

// RequestElicitation asks the client to collect user input matching the
// requested schema. Requires the elicitation client capability.
func (s *Server) RequestElicitation(ctx context.Context, params ElicitationParams) (ElicitationResult, error) {
	if err := s.requireClientCapability("elicitation"); err != nil {
		return ElicitationResult{}, err
	}
	raw, err := s.peer.call(ctx, MethodElicitationCreate, params)
	if err != nil {
		return ElicitationResult{}, err
	}
	var result ElicitationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ElicitationResult{}, fmt.Errorf("failed to unmarshal elicitation result: %w", err)
	}
	return result, nil
}

// RequestRoots asks the client for its filesystem roots. Requires the roots
// client capability.
func (s *Server) RequestRoots(ctx context.Context) ([]Root, error) {
	if err := s.requireClientCapability("roots"); err != nil {
		return nil, err
	}
	raw, err := s.peer.call(ctx, MethodRootsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var result RootsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roots result: %w", err)
	}
	return result.Roots, nil
}

// Ping sends an empty request and waits for the empty response.
func (s *Server) Ping(ctx context.Context) error {
	_, err := s.peer.call(ctx, MethodPing, struct{}{})
	return err
}

func (s *Server) requireClientCapability(name string) error {
	if s.peer.session.State() != StateReady {
		return errors.New("session is not ready")
	}
	caps := s.peer.session.ClientCapabilities()
	ok := false
	switch name {
	case "sampling":
		ok = caps.Sampling != nil
	case "roots":
		ok = caps.Roots != nil
	case "elicitation":
		ok = caps.Elicitation != nil
	}
	if !ok {
		return fmt.Errorf("client does not support the %s capability", name)
	}
	return nil
}

func (s *Server) notifyChanged(method string) {
	if err := s.peer.notify(method, nil); err != nil {
		s.logger.Error("failed to send list changed notification",
			slog.String("method", method),
			slog.String("err", err.Error()))
	}
}

// capabilities derives the advertised capability set from what is
// registered: any tool implies tools with listChanged, any resource implies
// resources with subscribe and listChanged, any prompt implies prompts with
// listChanged; logging is always offered, completions iff a completion
// handler is set.
func (s *Server) capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := ServerCapabilities{
		Logging: &LoggingCapability{},
	}
	if len(s.tools.items) > 0 {
		caps.Tools = &ToolsCapability{ListChanged: true}
	}
	if len(s.resources.items) > 0 || len(s.templates.items) > 0 {
		caps.Resources = &ResourcesCapability{Subscribe: true, ListChanged: true}
	}
	if len(s.prompts.items) > 0 {
		caps.Prompts = &PromptsCapability{ListChanged: true}
	}
	if s.completion != nil {
		caps.Completions = &CompletionsCapability{}
	}
	return caps
}

func (s *Server) registerHandlers() {
	router := s.peer.router

	router.OnRequest(MethodInitialize, s.handleInitialize)
	router.OnRequest(MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return json.RawMessage("{}"), nil
	})

	router.OnRequest(MethodToolsList, s.handleListTools)
	router.OnRequest(MethodToolsCall, s.handleCallTool)
	router.RequireCapability(MethodToolsList, "tools")
	router.RequireCapability(MethodToolsCall, "tools")

	router.OnRequest(MethodResourcesList, s.handleListResources)
	router.OnRequest(MethodResourcesRead, s.handleReadResource)
	router.OnRequest(MethodResourcesTemplatesList, s.handleListResourceTemplates)
	router.OnRequest(MethodResourcesSubscribe, s.handleSubscribe)
	router.OnRequest(MethodResourcesUnsubscribe, s.handleUnsubscribe)
	router.RequireCapability(MethodResourcesList, "resources")
	router.RequireCapability(MethodResourcesRead, "resources")
	router.RequireCapability(MethodResourcesTemplatesList, "resources")
	router.RequireCapability(MethodResourcesSubscribe, "resources")
	router.RequireCapability(MethodResourcesUnsubscribe, "resources")

	router.OnRequest(MethodPromptsList, s.handleListPrompts)
	router.OnRequest(MethodPromptsGet, s.handleGetPrompt)
	router.RequireCapability(MethodPromptsList, "prompts")
	router.RequireCapability(MethodPromptsGet, "prompts")

	router.OnRequest(MethodCompletionComplete, s.handleComplete)
	router.RequireCapability(MethodCompletionComplete, "completions")

	router.OnRequest(MethodLoggingSetLevel, s.handleSetLogLevel)
	router.RequireCapability(MethodLoggingSetLevel, "logging")

	router.OnNotification(methodNotificationsInitialized, func(context.Context, json.RawMessage) {
		// The client confirmed the handshake; the session becomes eligible
		// for full dispatch.
		s.peer.session.SetState(StateReady)
	})
	router.OnNotification(methodNotificationsRootsListChanged, func(context.Context, json.RawMessage) {
		if s.rootsListWatcher != nil {
			s.rootsListWatcher.OnRootsListChanged()
		}
	})
}

func (s *Server) handleInitialize(_ context.Context, raw json.RawMessage) (any, error) {
	var params initializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("failed to unmarshal params: %v", err),
		}
	}

	// Echo the client's version when this peer supports it, otherwise offer
	// the newest version this peer speaks and let the client decide.
	negotiated := ProtocolVersion
	for _, v := range supportedProtocolVersions {
		if v == params.ProtocolVersion {
			negotiated = v
			break
		}
	}

	session := s.peer.session
	session.SetState(StateInitializing)
	session.SetClientCapabilities(params.Capabilities)
	session.SetProtocolVersion(negotiated)

	caps := s.capabilities()
	session.SetServerCapabilities(caps)
	// Re-enters the router from inside a dispatch; safe because the registry
	// lock is not held during handler execution.
	s.peer.router.SetCapabilities(caps, params.Capabilities)

	s.logger.Info("client connected",
		slog.String("name", params.ClientInfo.Name),
		slog.String("version", params.ClientInfo.Version),
		slog.String("protocolVersion", negotiated))

	return InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    caps,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleListTools(_ context.Context, raw json.RawMessage) (any, error) {
	var params ListToolsParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	items, next := s.tools.page(params.Cursor)
	s.mu.Unlock()
	return ListToolsResult{Tools: items, NextCursor: next}, nil
}

func (s *Server) handleCallTool(ctx context.Context, raw json.RawMessage) (any, error) {
	var params CallToolParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	handler, ok := s.toolHandlers[params.Name]
	s.mu.Unlock()
	if !ok {
		return nil, &Error{
			Code:    CodeInvalidParams,
			Message: "Unknown tool: " + params.Name,
		}
	}

	result, err := handler(ctx, params.Arguments)
	if err != nil {
		// Tool failures are results, not protocol errors.
		return CallToolResult{
			Content: []Content{NewTextContent(err.Error())},
			IsError: true,
		}, nil
	}
	return result, nil
}

func (s *Server) handleListResources(_ context.Context, raw json.RawMessage) (any, error) {
	var params ListResourcesParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	items, next := s.resources.page(params.Cursor)
	s.mu.Unlock()
	return ListResourcesResult{Resources: items, NextCursor: next}, nil
}

func (s *Server) handleReadResource(ctx context.Context, raw json.RawMessage) (any, error) {
	var params ReadResourceParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	handler, ok := s.resourceReads[params.URI]
	if !ok {
		for _, tr := range s.templateReads {
			if tr.tmpl.Match(params.URI) != nil {
				handler = tr.handler
				ok = true
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil, &Error{
			Code:    CodeResourceNotFound,
			Message: "Resource not found: " + params.URI,
		}
	}

	contents, err := handler(ctx, params.URI)
	if err != nil {
		var protoErr *Error
		if errors.As(err, &protoErr) {
			return nil, protoErr
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handleListResourceTemplates(_ context.Context, raw json.RawMessage) (any, error) {
	var params ListResourceTemplatesParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	items, next := s.templates.page(params.Cursor)
	s.mu.Unlock()
	return ListResourceTemplatesResult{Templates: items, NextCursor: next}, nil
}

func (s *Server) handleSubscribe(_ context.Context, raw json.RawMessage) (any, error) {
	var params SubscribeResourceParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.subscriptions[params.URI] = struct{}{}
	s.mu.Unlock()
	return json.RawMessage("{}"), nil
}

func (s *Server) handleUnsubscribe(_ context.Context, raw json.RawMessage) (any, error) {
	var params UnsubscribeResourceParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.subscriptions, params.URI)
	s.mu.Unlock()
	return json.RawMessage("{}"), nil
}

func (s *Server) handleListPrompts(_ context.Context, raw json.RawMessage) (any, error) {
	var params ListPromptsParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	items, next := s.prompts.page(params.Cursor)
	s.mu.Unlock()
	return ListPromptsResult{Prompts: items, NextCursor: next}, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, raw json.RawMessage) (any, error) {
	var params GetPromptParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	handler, ok := s.promptReads[params.Name]
	s.mu.Unlock()
	if !ok {
		return nil, &Error{
			Code:    CodeInvalidParams,
			Message: "Unknown prompt: " + params.Name,
		}
	}

	result, err := handler(ctx, params.Name, params.Arguments)
	if err != nil {
		var protoErr *Error
		if errors.As(err, &protoErr) {
			return nil, protoErr
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return result, nil
}

func (s *Server) handleComplete(ctx context.Context, raw json.RawMessage) (any, error) {
	s.mu.Lock()
	handler := s.completion
	s.mu.Unlock()
	if handler == nil {
		return nil, &Error{
			Code:    CodeMethodNotFound,
			Message: "No completion handler registered",
		}
	}

	var params CompleteParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	result, err := handler(ctx, params.Ref, params.Argument)
	if err != nil {
		var protoErr *Error
		if errors.As(err, &protoErr) {
			return nil, protoErr
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return result, nil
}

func (s *Server) handleSetLogLevel(_ context.Context, raw json.RawMessage) (any, error) {
	var params SetLogLevelParams
	if err := unmarshalParams(raw, &params); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.minLogLevel = params.Level
	s.mu.Unlock()
	return json.RawMessage("{}"), nil
}

// unmarshalParams decodes request parameters, treating an absent params
// object as empty.
func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("failed to unmarshal params: %v", err),
		}
	}
	return nil
}
