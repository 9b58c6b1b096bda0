package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMessageClassification(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want Message
	}{
		{
			name: "request with integer id",
			in:   `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"cursor":"5"}}`,
			want: &Request{
				ID:     NewIntRequestID(1),
				Method: "tools/list",
				Params: json.RawMessage(`{"cursor":"5"}`),
			},
		},
		{
			name: "request with string id",
			in:   `{"jsonrpc":"2.0","id":"abc","method":"ping"}`,
			want: &Request{ID: NewStringRequestID("abc"), Method: "ping"},
		},
		{
			name: "notification",
			in:   `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			want: &Notification{Method: "notifications/initialized"},
		},
		{
			name: "response with result",
			in:   `{"jsonrpc":"2.0","id":7,"result":{"tools":[]}}`,
			want: &Response{ID: NewIntRequestID(7), Result: json.RawMessage(`{"tools":[]}`)},
		},
		{
			name: "response with error",
			in:   `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"Method not found: nope"}}`,
			want: &Response{
				ID:    NewIntRequestID(7),
				Error: &Error{Code: -32601, Message: "Method not found: nope"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMessage([]byte(tc.in))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported(RequestID{})); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMessageErrors(t *testing.T) {
	testCases := []struct {
		name string
		in   string
	}{
		{"invalid json", `{"jsonrpc":`},
		{"not an object", `[1,2,3]`},
		{"empty input", ``},
		{"missing protocol tag", `{"id":1,"method":"ping"}`},
		{"wrong protocol tag", `{"jsonrpc":"1.0","id":1,"method":"ping"}`},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"ping"}`},
		{"null id response", `{"jsonrpc":"2.0","id":null,"result":{}}`},
		{"neither id nor method", `{"jsonrpc":"2.0","params":{}}`},
		{"float id", `{"jsonrpc":"2.0","id":1.5,"method":"ping"}`},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tc.in))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParseMessageClampsHugeIDs(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":18446744073709551615,"method":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req, ok := msg.(*Request)
	if !ok {
		t.Fatalf("expected request, got %T", msg)
	}
	if req.ID.String() != "9223372036854775807" {
		t.Errorf("expected clamped id, got %s", req.ID.String())
	}
}

func TestEncodeMessageRoundTrip(t *testing.T) {
	messages := []Message{
		&Request{ID: NewIntRequestID(42), Method: "tools/call", Params: json.RawMessage(`{"name":"echo"}`)},
		&Request{ID: NewStringRequestID("r-1"), Method: "ping"},
		&Notification{Method: "notifications/progress", Params: json.RawMessage(`{"progressToken":1,"progress":0.5}`)},
		&Response{ID: NewIntRequestID(42), Result: json.RawMessage(`{"content":[]}`)},
		&Response{ID: NewStringRequestID("r-1"), Error: &Error{Code: CodeInternalError, Message: "boom"}},
	}

	for _, msg := range messages {
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		got, err := ParseMessage(data)
		if err != nil {
			t.Fatalf("failed to parse %s: %v", data, err)
		}
		if diff := cmp.Diff(msg, got, cmp.AllowUnexported(RequestID{})); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeMessageIncludesProtocolTag(t *testing.T) {
	data, err := EncodeMessage(&Notification{Method: "ping"})
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if !strings.Contains(string(data), `"jsonrpc":"2.0"`) {
		t.Errorf("serialized message misses protocol tag: %s", data)
	}
}

func TestParseBatch(t *testing.T) {
	in := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"}
	]`
	msgs, err := ParseBatch([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if _, ok := msgs[0].(*Request); !ok {
		t.Errorf("expected first element to be a request, got %T", msgs[0])
	}
	if _, ok := msgs[1].(*Notification); !ok {
		t.Errorf("expected second element to be a notification, got %T", msgs[1])
	}
}

func TestParseBatchEmpty(t *testing.T) {
	msgs, err := ParseBatch([]byte(`[]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty sequence, got %d messages", len(msgs))
	}
}

func TestParseBatchRejectsNonObjectElements(t *testing.T) {
	if _, err := ParseBatch([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"}, 42]`)); err == nil {
		t.Fatal("expected error for non-object batch element")
	}
	if _, err := ParseBatch([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err == nil {
		t.Fatal("expected error for non-array batch input")
	}
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	msgs := []Message{
		&Request{ID: NewIntRequestID(1), Method: "tools/list"},
		&Response{ID: NewIntRequestID(1), Result: json.RawMessage(`{"tools":[]}`)},
	}
	data, err := EncodeBatch(msgs)
	if err != nil {
		t.Fatalf("failed to encode batch: %v", err)
	}
	got, err := ParseBatch(data)
	if err != nil {
		t.Fatalf("failed to parse batch: %v", err)
	}
	if diff := cmp.Diff(msgs, got, cmp.AllowUnexported(RequestID{})); diff != "" {
		t.Errorf("batch round trip mismatch (-want +got):\n%s", diff)
	}
}
