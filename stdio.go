package mcp

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Stdio carries newline-delimited JSON-RPC frames over an io.Reader/io.Writer
// pair, typically the stdin/stdout of a child process. One goroutine reads
// and frames inbound lines, another drains the outbound queue; Shutdown
// unblocks both. Messages sent before Start are queued and delivered once
// delivery begins.
//
// Instances must be created with NewStdio.
type Stdio struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]byte
	started   bool
	shutdown  bool
	connected bool

	done       chan struct{}
	writerDone chan struct{}
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithStdioLogger sets the logger used for transport diagnostics.
func WithStdioLogger(logger *slog.Logger) StdioOption {
	return func(s *Stdio) {
		s.logger = logger
	}
}

// NewStdio creates a Stdio transport over the given byte streams.
func NewStdio(reader io.Reader, writer io.Writer, options ...StdioOption) *Stdio {
	s := &Stdio{
		reader:     reader,
		writer:     writer,
		logger:     slog.Default(),
		connected:  true,
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "stdio"))
	return s
}

// Start spawns the reader and writer goroutines. A transport that was shut
// down before Start is already drained, so Start returns immediately.
func (s *Stdio) Start(onMessage MessageHandler, onError ErrorHandler) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("transport already started")
	}
	s.started = true
	s.mu.Unlock()

	go s.writeLoop()
	go s.readLoop(onMessage, onError)
	return nil
}

// Send enqueues one frame. It fails with ErrTransportClosed after Shutdown;
// frames enqueued before Start are delivered once Start begins.
func (s *Stdio) Send(msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrTransportClosed
	}
	s.queue = append(s.queue, data)
	s.cond.Signal()
	return nil
}

// Shutdown stops the transport. It is idempotent; calling it before Start
// leaves the transport drained so a later Start is a no-op.
func (s *Stdio) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.connected = false
	close(s.done)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Connected reports whether the byte streams are still usable.
func (s *Stdio) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.shutdown
}

type stdioLine struct {
	line string
	err  error
}

func (s *Stdio) readLoop(onMessage MessageHandler, onError ErrorHandler) {
	lines := make(chan stdioLine)

	// The blocking reads happen in their own goroutine so the loop below can
	// exit promptly on shutdown. Use bufio.Reader instead of bufio.Scanner to
	// avoid max token size errors; unterminated trailing bytes stay buffered
	// across reads.
	go func() {
		reader := bufio.NewReader(s.reader)
		for {
			line, err := reader.ReadString('\n')
			select {
			case lines <- stdioLine{line: line, err: err}:
			case <-s.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var lwe stdioLine
		select {
		case <-s.done:
			return
		case lwe = <-lines:
		}

		if lwe.err != nil {
			s.markDisconnected()
			if !errors.Is(lwe.err, io.EOF) {
				s.logger.Error("failed to read message", slog.String("err", lwe.err.Error()))
				if onError != nil {
					onError(lwe.err)
				}
			}
			return
		}

		line := strings.TrimSuffix(lwe.line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		msg, err := ParseMessage([]byte(line))
		if err != nil {
			s.logger.Error("failed to parse message", slog.String("err", err.Error()))
			if onError != nil {
				onError(err)
			}
			continue
		}

		onMessage(msg)
	}
}

// markDisconnected flags end-of-stream and wakes the writer so it can drain
// and exit.
func (s *Stdio) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stdio) writeLoop() {
	defer close(s.writerDone)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.shutdown && s.connected {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		data := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		// Write the whole frame, retrying partial writes. A fatal write
		// error ends the loop; queued messages are discarded.
		for len(data) > 0 {
			n, err := s.writer.Write(data)
			if err != nil {
				s.logger.Error("failed to write message", slog.String("err", err.Error()))
				s.markDisconnected()
				return
			}
			data = data[n:]
		}
	}
}
