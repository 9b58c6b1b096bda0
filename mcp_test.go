package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func timeoutChan(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(5 * time.Second)
}

// newTestPair wires a server and a client together over in-process pipes.
func newTestPair(t *testing.T, srv *Server, clientOpts ...ClientOption) *Client {
	t.Helper()

	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	if err := srv.Serve(NewStdio(serverReader, serverWriter)); err != nil {
		t.Fatalf("failed to serve: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cli := NewClient(Info{Name: "test-client", Version: "1.0"}, clientOpts...)
	if err := cli.Connect(NewStdio(clientReader, clientWriter)); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(cli.Close)

	return cli
}

func initializedPair(t *testing.T, srv *Server, clientOpts ...ClientOption) *Client {
	t.Helper()
	cli := newTestPair(t, srv, clientOpts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	// The server turns Ready only when notifications/initialized arrives,
	// which can trail Initialize returning on the client side.
	for srv.Session().State() != StateReady {
		select {
		case <-ctx.Done():
			t.Fatalf("server session did not become ready: %v", srv.Session().State())
		case <-time.After(5 * time.Millisecond):
		}
	}
	return cli
}

// rawConn speaks the newline-framed wire format directly against a served
// transport, for tests that assert literal frames.
type rawConn struct {
	t      *testing.T
	writer io.Writer
	lines  chan string
}

func newRawServerConn(t *testing.T, srv *Server) *rawConn {
	t.Helper()

	serverReader, wireWriter := io.Pipe()
	wireReader, serverWriter := io.Pipe()

	if err := srv.Serve(NewStdio(serverReader, serverWriter)); err != nil {
		t.Fatalf("failed to serve: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	c := &rawConn{t: t, writer: wireWriter, lines: make(chan string, 16)}
	go func() {
		reader := bufio.NewReader(wireReader)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(c.lines)
				return
			}
			c.lines <- strings.TrimSuffix(line, "\n")
		}
	}()
	return c
}

func (c *rawConn) write(frame string) {
	c.t.Helper()
	if _, err := io.WriteString(c.writer, frame+"\n"); err != nil {
		c.t.Fatalf("failed to write frame: %v", err)
	}
}

func (c *rawConn) read() map[string]any {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		if !ok {
			c.t.Fatal("connection closed")
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			c.t.Fatalf("unparseable frame %q: %v", line, err)
		}
		return decoded
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func TestInitializeExchange(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "echo"}, echoTool)
	conn := newRawServerConn(t, srv)

	conn.write(`{"jsonrpc":"2.0","id":1,"method":"initialize",` +
		`"params":{"protocolVersion":"2025-06-18",` +
		`"clientInfo":{"name":"c","version":"1"},"capabilities":{}}}`)

	resp := conn.read()
	if resp["jsonrpc"] != "2.0" {
		t.Errorf("missing protocol tag: %v", resp)
	}
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result, got %v", resp)
	}
	if result["protocolVersion"] != "2025-06-18" {
		t.Errorf("unexpected protocol version: %v", result["protocolVersion"])
	}
	serverInfo, _ := result["serverInfo"].(map[string]any)
	if serverInfo["name"] != "s" || serverInfo["version"] != "1" {
		t.Errorf("unexpected server info: %v", serverInfo)
	}
	caps, _ := result["capabilities"].(map[string]any)
	if _, ok := caps["tools"]; !ok {
		t.Errorf("expected tools capability advertised, got %v", caps)
	}

	conn.write(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	deadline := time.After(2 * time.Second)
	for srv.Session().State() != StateReady {
		select {
		case <-deadline:
			t.Fatalf("session did not become ready, state %s", srv.Session().State())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func echoTool(_ context.Context, args json.RawMessage) (CallToolResult, error) {
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return CallToolResult{}, err
	}
	return CallToolResult{Content: []Content{NewTextContent(params.Text)}}, nil
}

func TestToolCall(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "echo"}, echoTool)
	cli := initializedPair(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := cli.CallTool(ctx, CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if result.IsError {
		t.Error("unexpected isError")
	}
	if len(result.Content) != 1 ||
		result.Content[0].Type != ContentTypeText ||
		result.Content[0].Text != "hi" {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestToolErrorBecomesResult(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "fails"}, func(context.Context, json.RawMessage) (CallToolResult, error) {
		return CallToolResult{}, errors.New("tool exploded")
	})
	cli := initializedPair(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := cli.CallTool(ctx, CallToolParams{Name: "fails"})
	if err != nil {
		t.Fatalf("tool failure should not be a protocol error: %v", err)
	}
	if !result.IsError {
		t.Error("expected isError")
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "tool exploded") {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	conn := newRawServerConn(t, srv)

	conn.write(`{"jsonrpc":"2.0","id":1,"method":"initialize",` +
		`"params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"c","version":"1"},"capabilities":{}}}`)
	conn.read()
	conn.write(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	// Ready is set from the notification handler; ping round-trip orders us
	// behind it.
	conn.write(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	conn.read()

	conn.write(`{"jsonrpc":"2.0","id":3,"method":"nope"}`)
	resp := conn.read()

	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error response, got %v", resp)
	}
	if errObj["code"] != float64(-32601) {
		t.Errorf("expected code -32601, got %v", errObj["code"])
	}
	msg, _ := errObj["message"].(string)
	if !strings.HasPrefix(msg, "Method not found") {
		t.Errorf("unexpected message: %q", msg)
	}

	// The session survives.
	if srv.Session().State() != StateReady {
		t.Errorf("session left ready state: %s", srv.Session().State())
	}
	conn.write(`{"jsonrpc":"2.0","id":4,"method":"ping"}`)
	if pong := conn.read(); pong["id"] != float64(4) {
		t.Errorf("ping after error failed: %v", pong)
	}
}

func TestPagination(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"}, WithPageSize(50))
	for i := range 60 {
		srv.AddTool(Tool{Name: fmt.Sprintf("tool-%02d", i)}, echoTool)
	}
	cli := initializedPair(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := cli.ListTools(ctx, ListToolsParams{})
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(first.Tools) != 50 {
		t.Fatalf("expected 50 tools on the first page, got %d", len(first.Tools))
	}
	if first.NextCursor == "" {
		t.Fatal("expected a continuation cursor")
	}

	second, err := cli.ListTools(ctx, ListToolsParams{Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(second.Tools) != 10 {
		t.Fatalf("expected 10 tools on the second page, got %d", len(second.Tools))
	}
	if second.NextCursor != "" {
		t.Errorf("unexpected cursor on the last page: %q", second.NextCursor)
	}

	seen := make(map[string]bool)
	for _, tool := range append(first.Tools, second.Tools...) {
		if seen[tool.Name] {
			t.Errorf("tool %s appeared twice", tool.Name)
		}
		seen[tool.Name] = true
	}
	if len(seen) != 60 {
		t.Errorf("expected the union to cover all 60 tools, got %d", len(seen))
	}
}

func TestResourceSubscription(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddResource(Resource{URI: "file:///x", Name: "x"}, func(_ context.Context, uri string) ([]ResourceContents, error) {
		return []ResourceContents{{URI: uri, Text: "content"}}, nil
	})

	updated := make(chan string, 10)
	cli := initializedPair(t, srv, WithResourceUpdatedFunc(func(uri string) {
		updated <- uri
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.SubscribeResource(ctx, SubscribeResourceParams{URI: "file:///x"}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	srv.NotifyResourceUpdated("file:///x")
	select {
	case uri := <-updated:
		if uri != "file:///x" {
			t.Errorf("unexpected uri: %s", uri)
		}
	case <-timeoutChan(t):
		t.Fatal("subscribed update was not delivered")
	}

	// An update for an unsubscribed URI produces no client-visible event.
	srv.NotifyResourceUpdated("file:///y")
	select {
	case uri := <-updated:
		t.Errorf("unexpected update for %s", uri)
	case <-time.After(200 * time.Millisecond):
	}

	// Unsubscribe stops the events.
	if err := cli.UnsubscribeResource(ctx, UnsubscribeResourceParams{URI: "file:///x"}); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}
	srv.NotifyResourceUpdated("file:///x")
	select {
	case uri := <-updated:
		t.Errorf("update after unsubscribe for %s", uri)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) (CallToolResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return CallToolResult{Content: []Content{NewTextContent("late")}}, nil
	})
	cli := initializedPair(t, srv, WithClientRequestTimeout(150*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cli.CallTool(ctx, CallToolParams{Name: "slow"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// Let the handler finish; its late response must be dropped silently.
	close(release)
	time.Sleep(200 * time.Millisecond)

	// The session stays alive.
	if err := cli.Ping(ctx); err != nil {
		t.Errorf("ping after timeout failed: %v", err)
	}
}

func TestRequestsBeforeReadyRejected(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "echo"}, echoTool)
	conn := newRawServerConn(t, srv)

	conn.write(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	resp := conn.read()
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error before initialization, got %v", resp)
	}
	if errObj["code"] != float64(-32600) {
		t.Errorf("expected code -32600, got %v", errObj["code"])
	}

	// Ping is allowed in any state.
	conn.write(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	pong := conn.read()
	if pong["id"] != float64(2) || pong["error"] != nil {
		t.Errorf("ping before initialization failed: %v", pong)
	}
}

func TestInboundCancellation(t *testing.T) {
	entered := make(chan struct{})
	cancelled := make(chan struct{})
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "wait"}, func(ctx context.Context, _ json.RawMessage) (CallToolResult, error) {
		close(entered)
		select {
		case <-ctx.Done():
			close(cancelled)
			return CallToolResult{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return CallToolResult{Content: []Content{NewTextContent("done")}}, nil
		}
	})
	conn := newRawServerConn(t, srv)

	conn.write(`{"jsonrpc":"2.0","id":1,"method":"initialize",` +
		`"params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"c","version":"1"},"capabilities":{}}}`)
	conn.read()
	conn.write(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	conn.write(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	conn.read()

	conn.write(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"wait"}}`)
	select {
	case <-entered:
	case <-timeoutChan(t):
		t.Fatal("handler never started")
	}

	conn.write(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":3,"reason":"test"}}`)
	select {
	case <-cancelled:
	case <-timeoutChan(t):
		t.Fatal("handler context was not cancelled")
	}
}

func TestShutdownFailsPendingCalls(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	srv.AddTool(Tool{Name: "hang"}, func(ctx context.Context, _ json.RawMessage) (CallToolResult, error) {
		<-ctx.Done()
		return CallToolResult{}, ctx.Err()
	})
	cli := initializedPair(t, srv)

	errs := make(chan error, 1)
	go func() {
		_, err := cli.CallTool(context.Background(), CallToolParams{Name: "hang"})
		errs <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cli.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("expected ErrTransportClosed, got %v", err)
		}
	case <-timeoutChan(t):
		t.Fatal("pending call survived shutdown")
	}

	if cli.Session().State() != StateClosed {
		t.Errorf("expected closed state, got %s", cli.Session().State())
	}
}
