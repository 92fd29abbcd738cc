package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/generate"
)

// maxLineBytes bounds one request line. Buffers are sent whole-context, so
// the default scanner limit is too small.
const maxLineBytes = 4 << 20

// hangupPoll is how often a half-closed connection is checked for a full close.
const hangupPoll = 50 * time.Millisecond

var errClientGone = errors.New("client disconnected")

// Completer runs the requests received by the server.
type Completer interface {
	Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response
	Edit(ctx context.Context, req *ghostline.EditRequest) *ghostline.EditResponse
	Cancel(sessionID string) bool
	Reload(ctx context.Context)
	Config() *ghostline.Config
	Close()
}

// Server listens on a Unix domain socket for editor requests.
type Server struct {
	listener net.Listener
	sockPath string
	engine   Completer
	log      *slog.Logger

	closeOnce sync.Once
}

// NewServer creates a new IPC server bound to the given socket path.
func NewServer(ctx context.Context, sockPath string, opts ...generate.Option) (*Server, error) {
	engine := generate.NewEngine(ctx, opts...)
	return NewServerWithCompleter(sockPath, engine)
}

// NewServerWithCompleter creates a new IPC server with a custom Completer.
func NewServerWithCompleter(sockPath string, completer Completer) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		engine:   completer,
		log:      slog.Default(),
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, the engine, and removes the socket file.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.listener.Close()
		s.engine.Close()
		os.Remove(s.sockPath)
	})
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			s.log.Warn("failed to read request", "error", err)
		}
		return
	}

	raw := scanner.Bytes()
	s.log.Debug("request", "data", string(raw))

	var env ghostline.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("invalid request", "error", err)
		return
	}

	switch env.Type {
	case ghostline.TypeConfig:
		s.handleConfig(conn, raw)
	case ghostline.TypeCancel:
		s.handleCancel(conn, raw)
	case ghostline.TypeEdit:
		s.handleEdit(conn, raw)
	case ghostline.TypeComplete, "":
		// Older clients send config requests without a type.
		if env.Type == "" && env.Action != "" {
			s.handleConfig(conn, raw)
			return
		}
		s.handleComplete(conn, raw)
	default:
		s.write(conn, &ghostline.Response{
			State: "failed",
			Error: &ghostline.Error{Code: ghostline.CodeInvalidRequest, Message: "unknown message type: " + env.Type},
		})
	}
}

// watch cancels the returned context when the client hangs up. Clients send
// one line per connection. EOF alone is not a hang-up: a client may shut down
// its write side and still wait for the reply. After EOF the peer is polled
// until it closes both directions.
func watch(conn net.Conn) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		var buf [512]byte
		for {
			_, err := conn.Read(buf[:])
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			cancel(errClientGone)
			return
		}

		tick := time.NewTicker(hangupPoll)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if peerClosed(conn) {
					cancel(errClientGone)
					return
				}
			}
		}
	}()
	return ctx, cancel
}

func (s *Server) handleComplete(conn net.Conn, raw []byte) {
	var req ghostline.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn("invalid completion request", "error", err)
		return
	}

	ctx, cancel := watch(conn)
	defer cancel(nil)

	resp := s.engine.Complete(ctx, &req)
	if context.Cause(ctx) == errClientGone {
		s.log.Debug("client gone", "request_id", req.RequestID, "session", req.SessionID)
		return
	}
	resp.RequestID = req.RequestID
	s.write(conn, resp)
}

func (s *Server) handleEdit(conn net.Conn, raw []byte) {
	var req ghostline.EditRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn("invalid edit request", "error", err)
		return
	}

	ctx, cancel := watch(conn)
	defer cancel(nil)

	resp := s.engine.Edit(ctx, &req)
	if context.Cause(ctx) == errClientGone {
		return
	}
	resp.RequestID = req.RequestID
	s.write(conn, resp)
}

func (s *Server) handleCancel(conn net.Conn, raw []byte) {
	var req ghostline.CancelRequest
	resp := ghostline.CancelResponse{OK: true}
	if err := json.Unmarshal(raw, &req); err != nil {
		resp.OK = false
		resp.Error = &ghostline.Error{Code: ghostline.CodeInvalidRequest, Message: err.Error()}
	} else {
		resp.Cancelled = s.engine.Cancel(req.SessionID)
	}
	s.write(conn, resp)
}

func (s *Server) handleConfig(conn net.Conn, raw []byte) {
	var req ghostline.ConfigRequest
	var resp ghostline.ConfigResponse
	if err := json.Unmarshal(raw, &req); err != nil {
		resp.Error = &ghostline.Error{Code: ghostline.CodeInvalidRequest, Message: err.Error()}
		s.write(conn, resp)
		return
	}

	switch req.Action {
	case "get":
		resp.Config = s.engine.Config().Redacted()

	case "reload":
		s.engine.Reload(context.Background())
		cfg := s.engine.Config()
		resp.Config = cfg.Redacted()
		resp.Warnings = ghostline.ValidateConfig(cfg)

	case "defaults":
		resp.Config = ghostline.DefaultConfig()

	case "validate":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{
				Code:    ghostline.CodeConfigError,
				Message: err.Error(),
			}
		} else {
			resp.Warnings = ghostline.ValidateConfig(cfg)
		}

	default:
		resp.Error = &ghostline.Error{
			Code:    ghostline.CodeUnknownAction,
			Message: "unknown config action: " + req.Action,
		}
	}

	s.write(conn, resp)
}

func (s *Server) write(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}

	s.log.Debug("response", "data", string(data))

	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Debug("failed to write response", "error", err)
	}
}
