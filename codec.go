package mcp

import (
	"bytes"
	"encoding/json"
)

// wireMessage is the union of all fields a JSON-RPC frame may carry. The ID is
// kept raw so an absent field can be told apart from a literal null.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Meta    json.RawMessage `json:"_meta,omitempty"`
}

// ParseMessage decodes one JSON object into a typed message. It fails with a
// *ParseError when the bytes are not valid JSON, the root is not an object,
// the protocol tag is absent or not "2.0", an id field is present but null,
// or the shape matches none of request, response and notification.
func ParseMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, parseErrorf("empty input")
	}
	if trimmed[0] != '{' {
		return nil, parseErrorf("message must be a JSON object")
	}

	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, parseErrorf("invalid JSON: %v", err)
	}
	return classify(&w)
}

// ParseBatch decodes a JSON array of messages. An empty array yields an empty
// slice; any element that is not a well-formed message object fails the whole
// batch.
func ParseBatch(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, parseErrorf("empty input")
	}
	if trimmed[0] != '[' {
		return nil, parseErrorf("batch must be a JSON array")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, parseErrorf("invalid JSON: %v", err)
	}

	msgs := make([]Message, 0, len(elems))
	for _, elem := range elems {
		msg, err := ParseMessage(elem)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func classify(w *wireMessage) (Message, error) {
	if w.JSONRPC != JSONRPCVersion {
		if w.JSONRPC == "" {
			return nil, parseErrorf("missing jsonrpc field")
		}
		return nil, parseErrorf("invalid jsonrpc version %q, expected %q", w.JSONRPC, JSONRPCVersion)
	}

	hasID := len(w.ID) > 0
	if hasID && bytes.Equal(bytes.TrimSpace(w.ID), []byte("null")) {
		return nil, parseErrorf("id must not be null")
	}

	var id RequestID
	if hasID {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return nil, parseErrorf("%v", err)
		}
	}

	switch {
	case w.Method != "" && hasID:
		return &Request{ID: id, Method: w.Method, Params: w.Params, Meta: w.Meta}, nil
	case w.Method != "":
		return &Notification{Method: w.Method, Params: w.Params}, nil
	case hasID:
		if w.Result != nil && w.Error != nil {
			return nil, parseErrorf("response carries both result and error")
		}
		return &Response{ID: id, Result: w.Result, Error: w.Error}, nil
	default:
		return nil, parseErrorf("cannot determine message type: missing both id and method")
	}
}

// EncodeMessage serializes one message. Optional fields are omitted rather
// than emitted as null; a response without an error always carries a result
// so the frame keeps its response shape.
func EncodeMessage(msg Message) ([]byte, error) {
	w := wireMessage{JSONRPC: JSONRPCVersion}

	switch m := msg.(type) {
	case *Request:
		idBytes, err := m.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.ID = idBytes
		w.Method = m.Method
		w.Params = m.Params
		w.Meta = m.Meta
	case *Notification:
		w.Method = m.Method
		w.Params = m.Params
	case *Response:
		idBytes, err := m.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.ID = idBytes
		w.Error = m.Error
		if m.Error == nil {
			w.Result = m.Result
			if w.Result == nil {
				w.Result = json.RawMessage("null")
			}
		}
	}

	return json.Marshal(w)
}

// EncodeBatch serializes a sequence of messages as a JSON array.
func EncodeBatch(msgs []Message) ([]byte, error) {
	elems := make([]json.RawMessage, 0, len(msgs))
	for _, msg := range msgs {
		b, err := EncodeMessage(msg)
		if err != nil {
			return nil, err
		}
		elems = append(elems, b)
	}
	return json.Marshal(elems)
}
