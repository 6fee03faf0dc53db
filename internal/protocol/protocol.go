// Package protocol is the Command/Event Channel: a line-delimited JSON
// protocol over stdin/stdout. One command thread reads requests; all
// other goroutines post responses and unsolicited events through a single
// output writer so stdout is never interleaved.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Request is one inbound command line.
type Request struct {
	Type string          `json:"type"`
	ID   *int64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is one outbound line: a direct reply (echoes ID) or an
// unsolicited event (ID omitted).
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	ID      *int64 `json:"id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler processes one request's data payload and returns the response
// payload, or an error that becomes an error response.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Server drains stdin line by line, dispatches to registered handlers, and
// serializes all writes (replies and events alike) under one output mutex
// so concurrent producers never interleave partial lines.
type Server struct {
	handlers map[string]Handler

	outMu sync.Mutex
	out   *bufio.Writer

	logger *slog.Logger
}

// New builds a Server writing responses to w. Call Run with the input
// stream to read commands from.
func New(w io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handlers: make(map[string]Handler),
		out:      bufio.NewWriter(w),
		logger:   logger,
	}
}

// Handle registers fn for the given command type.
func (s *Server) Handle(cmdType string, fn Handler) {
	s.handlers[cmdType] = fn
}

// Emit writes an unsolicited event; eventType becomes the response's Type
// and carries no id.
func (s *Server) Emit(eventType string, data any) {
	s.write(Response{Type: eventType, Success: true, Data: data})
}

// EmitError writes an unsolicited error event.
func (s *Server) EmitError(eventType, message string) {
	s.write(Response{Type: eventType, Success: false, Error: message})
}

// Run reads lines from r until EOF or ctx cancellation, dispatching each
// to its registered handler. Malformed JSON is logged and dropped without
// a reply; an unrecognized type produces an error response.
func (s *Server) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("protocol: malformed request line", "error", err)
			continue
		}
		if req.Type == "" {
			s.logger.Warn("protocol: request missing type field")
			continue
		}

		s.dispatch(ctx, req)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req Request) {
	handler, ok := s.handlers[req.Type]
	if !ok {
		s.reply(req.ID, req.Type, false, nil, "unknown command type: "+req.Type)
		return
	}

	data, err := handler(ctx, req.Data)
	if err != nil {
		s.reply(req.ID, req.Type, false, nil, err.Error())
		return
	}
	s.reply(req.ID, req.Type, true, data, "")
}

func (s *Server) reply(id *int64, cmdType string, success bool, data any, errMsg string) {
	s.write(Response{Type: cmdType, Success: success, ID: id, Data: data, Error: errMsg})
}

func (s *Server) write(resp Response) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	enc := json.NewEncoder(s.out)
	if err := enc.Encode(resp); err != nil {
		s.logger.Error("protocol: failed to encode response", "error", err)
		return
	}
	if err := s.out.Flush(); err != nil {
		s.logger.Error("protocol: failed to flush response", "error", err)
	}
}
