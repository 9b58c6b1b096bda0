package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRouterDispatchSuccess(t *testing.T) {
	router := NewRouter(nil)
	router.OnRequest("sum", func(_ context.Context, params json.RawMessage) (any, error) {
		var in []int
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		total := 0
		for _, v := range in {
			total += v
		}
		return map[string]int{"total": total}, nil
	})

	resp := router.Dispatch(context.Background(), &Request{
		ID:     NewIntRequestID(1),
		Method: "sum",
		Params: json.RawMessage(`[1,2,3]`),
	})
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Result) != `{"total":6}` {
		t.Errorf("unexpected result: %s", resp.Result)
	}
}

func TestRouterMethodNotFound(t *testing.T) {
	router := NewRouter(nil)
	resp := router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(1), Method: "nope"})
	if resp == nil || resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected code %d, got %d", CodeMethodNotFound, resp.Error.Code)
	}
	if !strings.HasPrefix(resp.Error.Message, "Method not found") {
		t.Errorf("unexpected message: %s", resp.Error.Message)
	}
}

func TestRouterCapabilityGating(t *testing.T) {
	router := NewRouter(nil)
	router.OnRequest(MethodToolsList, func(context.Context, json.RawMessage) (any, error) {
		return json.RawMessage(`{}`), nil
	})
	router.RequireCapability(MethodToolsList, "tools")

	resp := router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(1), Method: MethodToolsList})
	if resp == nil || resp.Error == nil {
		t.Fatal("expected a capability error before negotiation")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected code %d, got %d", CodeInvalidRequest, resp.Error.Code)
	}

	router.SetCapabilities(ServerCapabilities{Tools: &ToolsCapability{}}, ClientCapabilities{})
	resp = router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(2), Method: MethodToolsList})
	if resp == nil || resp.Error != nil {
		t.Fatalf("expected success after negotiation, got %+v", resp)
	}
}

func TestRouterUngatedMethodNeverInvalidRequest(t *testing.T) {
	router := NewRouter(nil)
	router.OnRequest("free", func(context.Context, json.RawMessage) (any, error) {
		return json.RawMessage(`{}`), nil
	})

	// No capability requirement, no negotiated capabilities at all.
	resp := router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(1), Method: "free"})
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil && resp.Error.Code == CodeInvalidRequest {
		t.Error("ungated method with a handler must never yield InvalidRequest")
	}
}

func TestRouterHandlerErrorMapping(t *testing.T) {
	router := NewRouter(nil)
	router.OnRequest("proto", func(context.Context, json.RawMessage) (any, error) {
		return nil, &Error{Code: CodeResourceNotFound, Message: "Resource not found: x"}
	})
	router.OnRequest("generic", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	})
	router.OnRequest("panics", func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})

	resp := router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(1), Method: "proto"})
	if resp.Error == nil || resp.Error.Code != CodeResourceNotFound {
		t.Errorf("expected protocol error code preserved, got %+v", resp.Error)
	}

	resp = router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(2), Method: "generic"})
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("expected internal error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "disk on fire") {
		t.Errorf("expected failure message preserved, got %s", resp.Error.Message)
	}

	resp = router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(3), Method: "panics"})
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("expected internal error from panic, got %+v", resp.Error)
	}
}

func TestRouterNotificationFailuresSwallowed(t *testing.T) {
	router := NewRouter(nil)
	called := false
	router.OnNotification("blows-up", func(context.Context, json.RawMessage) {
		called = true
		panic("boom")
	})

	// Must not panic, must not produce a response.
	if resp := router.Dispatch(context.Background(), &Notification{Method: "blows-up"}); resp != nil {
		t.Errorf("notification produced a response: %+v", resp)
	}
	if !called {
		t.Error("handler was not invoked")
	}

	// Unknown notifications are ignored silently.
	if resp := router.Dispatch(context.Background(), &Notification{Method: "unknown"}); resp != nil {
		t.Errorf("unknown notification produced a response: %+v", resp)
	}
}

func TestRouterResponsesYieldNothing(t *testing.T) {
	router := NewRouter(nil)
	if resp := router.Dispatch(context.Background(), &Response{ID: NewIntRequestID(1)}); resp != nil {
		t.Errorf("response dispatch produced a message: %+v", resp)
	}
}

// TestRouterReentrantHandler asserts the registry lock is not held during
// handler execution: the handler re-enters the router to register a method
// and update capabilities, which would deadlock otherwise.
func TestRouterReentrantHandler(t *testing.T) {
	router := NewRouter(nil)
	router.OnRequest("reenter", func(context.Context, json.RawMessage) (any, error) {
		router.OnRequest("late", func(context.Context, json.RawMessage) (any, error) {
			return json.RawMessage(`{}`), nil
		})
		router.SetCapabilities(ServerCapabilities{Tools: &ToolsCapability{}}, ClientCapabilities{})
		return json.RawMessage(`{}`), nil
	})

	done := make(chan *Response, 1)
	go func() {
		done <- router.Dispatch(context.Background(), &Request{ID: NewIntRequestID(1), Method: "reenter"})
	}()

	select {
	case resp := <-done:
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}
	case <-timeoutChan(t):
		t.Fatal("dispatch deadlocked on re-entrant handler")
	}

	if !router.HasHandler("late") {
		t.Error("re-entrant registration was lost")
	}
}
