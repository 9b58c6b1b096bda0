package mcp

// MessageHandler receives one decoded inbound message. The transport invokes
// it once per frame, in arrival order.
type MessageHandler func(msg Message)

// ErrorHandler receives transport-level failures, such as read errors or
// frames that could not be decoded.
type ErrorHandler func(err error)

// Transport moves JSON-RPC frames between two peers. Implementations must
// deliver Send calls to the wire in FIFO order and tolerate Send being called
// before Start; such messages are queued and delivered once delivery begins.
type Transport interface {
	// Start begins message delivery. It returns once inbound delivery is
	// running in the background; a transport that was shut down before
	// Start returns immediately with no error.
	Start(onMessage MessageHandler, onError ErrorHandler) error

	// Send enqueues one frame for outbound delivery. It returns
	// ErrTransportClosed after Shutdown.
	Send(msg Message) error

	// Shutdown stops the transport, unblocking any pending read promptly.
	// It is idempotent and may be called before Start.
	Shutdown()

	// Connected reports whether the transport is usable. It is a liveness
	// hint only; a Send racing a disconnect may still fail.
	Connected() bool
}
