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

// fakeWireServer reads newline frames from a client transport and answers
// them through a scripted function.
func fakeWireServer(t *testing.T, answer func(req *Request) string) Transport {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	go func() {
		reader := bufio.NewReader(serverReader)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			msg, err := ParseMessage([]byte(strings.TrimSuffix(line, "\n")))
			if err != nil {
				continue
			}
			req, ok := msg.(*Request)
			if !ok {
				continue
			}
			if frame := answer(req); frame != "" {
				if _, err := io.WriteString(serverWriter, frame+"\n"); err != nil {
					return
				}
			}
		}
	}()

	return NewStdio(clientReader, clientWriter)
}

func TestClientInitialize(t *testing.T) {
	srv := NewServer(Info{Name: "server", Version: "2.0"}, WithInstructions("be nice"))
	cli := newTestPair(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := cli.Initialize(ctx)
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("unexpected version: %s", result.ProtocolVersion)
	}
	if cli.ServerInfo().Name != "server" {
		t.Errorf("server info not recorded: %+v", cli.ServerInfo())
	}
	if cli.Instructions() != "be nice" {
		t.Errorf("instructions not recorded: %q", cli.Instructions())
	}
	if cli.Session().State() != StateReady {
		t.Errorf("expected ready state, got %s", cli.Session().State())
	}
	if cli.Session().ProtocolVersion() != ProtocolVersion {
		t.Error("negotiated version not recorded on the session")
	}
}

func TestClientInitializeRejectsUnsupportedVersion(t *testing.T) {
	transport := fakeWireServer(t, func(req *Request) string {
		if req.Method != MethodInitialize {
			return ""
		}
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{`+
			`"protocolVersion":"1999-12-31",`+
			`"capabilities":{},"serverInfo":{"name":"old","version":"0"}}}`, req.ID.String())
	})

	cli := NewClient(Info{Name: "c", Version: "1"}, WithClientRequestTimeout(2*time.Second))
	if err := cli.Connect(transport); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cli.Initialize(ctx)
	if err == nil {
		t.Fatal("expected initialize to fail on an unsupported version")
	}
	var protoErr *Error
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected a protocol error, got %v", err)
	}
	if !strings.Contains(protoErr.Message, "unsupported protocol version") {
		t.Errorf("unexpected message: %s", protoErr.Message)
	}
	if cli.Session().State() == StateReady {
		t.Error("session must not become ready after a failed negotiation")
	}
}

func TestClientInitializeErrorResponse(t *testing.T) {
	transport := fakeWireServer(t, func(req *Request) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,`+
			`"error":{"code":-32602,"message":"protocol version mismatch"}}`, req.ID.String())
	})

	cli := NewClient(Info{Name: "c", Version: "1"}, WithClientRequestTimeout(2*time.Second))
	if err := cli.Connect(transport); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := cli.Initialize(ctx)
	var protoErr *Error
	if !errors.As(err, &protoErr) || protoErr.Code != CodeInvalidParams {
		t.Fatalf("expected the server's error code preserved, got %v", err)
	}
}

func TestClientCapabilityInference(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	_ = initializedPair(t, srv,
		WithSamplingHandler(func(context.Context, SamplingParams) (SamplingResult, error) {
			return SamplingResult{}, nil
		}),
	)

	caps := srv.Session().ClientCapabilities()
	if caps.Sampling == nil {
		t.Error("sampling capability not advertised")
	}
	if caps.Roots != nil || caps.Elicitation != nil {
		t.Errorf("unexpected capabilities advertised: %+v", caps)
	}
}

func TestClientCancelNotification(t *testing.T) {
	got := make(chan string, 1)
	transport := fakeWireServer(t, func(req *Request) string { return "" })

	// Intercept outbound frames by wrapping the transport.
	cli := NewClient(Info{Name: "c", Version: "1"})
	intercepted := &sendRecorder{Transport: transport, frames: got}
	if err := cli.Connect(intercepted); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer cli.Close()

	if err := cli.Cancel(NewIntRequestID(7), "changed my mind"); err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}

	select {
	case frame := <-got:
		if !strings.Contains(frame, `"notifications/cancelled"`) ||
			!strings.Contains(frame, `"requestId":7`) ||
			!strings.Contains(frame, "changed my mind") {
			t.Errorf("unexpected cancel frame: %s", frame)
		}
	case <-timeoutChan(t):
		t.Fatal("cancel notification never sent")
	}
}

// sendRecorder forwards to the wrapped transport while copying outbound
// frames to a channel.
type sendRecorder struct {
	Transport
	frames chan string
}

func (r *sendRecorder) Send(msg Message) error {
	if data, err := EncodeMessage(msg); err == nil {
		select {
		case r.frames <- string(data):
		default:
		}
	}
	return r.Transport.Send(msg)
}

func TestClientPing(t *testing.T) {
	srv := NewServer(Info{Name: "s", Version: "1"})
	cli := initializedPair(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestClientProgressTokensPreserved(t *testing.T) {
	// Integer and string tokens survive the round trip in the form they
	// were given.
	for _, token := range []any{42, "op-9"} {
		srv := NewServer(Info{Name: "s", Version: "1"})
		progress := make(chan ProgressParams, 1)
		_ = initializedPair(t, srv, WithProgressFunc(func(params ProgressParams) {
			progress <- params
		}))

		if err := srv.SendProgress(token, 1, 0, ""); err != nil {
			t.Fatalf("failed to send progress: %v", err)
		}
		want, _ := json.Marshal(token)
		select {
		case params := <-progress:
			if string(params.ProgressToken) != string(want) {
				t.Errorf("token %v arrived as %s", token, params.ProgressToken)
			}
		case <-timeoutChan(t):
			t.Fatal("progress never arrived")
		}
	}
}
