package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
)

const maxRequestSize = 1 << 20

// Request is one line sent to the IPC socket.
type Request struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request. Kind is apperrors.Kind of the failure.
type Response struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Kind  string      `json:"kind,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type searchParams struct {
	TypedText string `json:"typed_text"`
}

type runActionParams struct {
	ExtensionID     string   `json:"extension_id"`
	ExtensionAction string   `json:"extension_action"`
	Args            []string `json:"args,omitempty"`
}

type openAppParams struct {
	ExecPath string `json:"exec_path"`
}

type openURLParams struct {
	URL string `json:"url"`
}

type openDialogParams struct {
	ExtensionID       string                 `json:"extension_id"`
	ExtensionAction   string                 `json:"extension_action"`
	Title             string                 `json:"title"`
	PrimaryButtonText string                 `json:"primary_button_text,omitempty"`
	Fields            []protocol.DialogField `json:"fields"`
	Args              []string               `json:"args,omitempty"`
}

type closeDialogParams struct {
	ExtensionID     string                  `json:"extension_id"`
	ExtensionAction string                  `json:"extension_action"`
	Args            []string                `json:"args,omitempty"`
	Results         []protocol.DialogResult `json:"results"`
}

type processData struct {
	Pid int `json:"pid"`
}

// IPCServer serves App over a unix socket, one JSON request per line.
type IPCServer struct {
	app        *App
	socketPath string
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	conns    sync.WaitGroup
	running  bool
}

func NewIPCServer(app *App, socketPath string, logger *zap.Logger) *IPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPCServer{
		app:        app,
		socketPath: socketPath,
		logger:     logger.Named("ipc"),
	}
}

func (s *IPCServer) SocketPath() string {
	return s.socketPath
}

func (s *IPCServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("IPC server already running")
	}

	// Remove a stale socket left by a previous run.
	if _, err := os.Stat(s.socketPath); err == nil {
		os.Remove(s.socketPath)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.logger.Info("IPC server listening", zap.String("socket", s.socketPath))

	s.conns.Add(1)
	go s.acceptConnections()

	return nil
}

func (s *IPCServer) acceptConnections() {
	defer s.conns.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("error accepting connection", zap.Error(err))
			continue
		}

		s.conns.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *IPCServer) handleConnection(conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxRequestSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = errorResponse(fmt.Errorf("%w: malformed request: %v", apperrors.ErrInvalidRequest, err))
		} else {
			s.logger.Debug("received IPC request", zap.String("command", req.Command))
			resp = s.dispatch(s.ctx, req)
		}

		if err := encoder.Encode(resp); err != nil {
			s.logger.Debug("failed to write IPC response", zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("error reading from connection", zap.Error(err))
	}
}

func (s *IPCServer) dispatch(ctx context.Context, req Request) Response {
	switch req.Command {
	case "ping":
		return Response{OK: true, Data: "pong"}

	case "get_search_results":
		var p searchParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(err)
		}
		results, err := s.app.GetSearchResults(ctx, p.TypedText)
		if err != nil {
			resp := errorResponse(err)
			resp.Data = results
			return resp
		}
		return Response{OK: true, Data: results}

	case "run_extension_action":
		var p runActionParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(err)
		}
		return handleResponse(s.app.RunExtensionAction(ctx, p.ExtensionID, p.ExtensionAction, p.Args))

	case "open_app":
		var p openAppParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(err)
		}
		return handleResponse(s.app.OpenApp(p.ExecPath))

	case "open_url":
		var p openURLParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(err)
		}
		return handleResponse(s.app.OpenURL(p.URL))

	case "open_extension_dialog":
		var p openDialogParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(err)
		}
		if err := s.app.OpenExtensionDialog(p.ExtensionID, p.ExtensionAction, p.Title, p.PrimaryButtonText, p.Fields, p.Args); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	case "get_extension_dialog_request":
		dialogReq, err := s.app.GetExtensionDialogRequest()
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Data: dialogReq}

	case "close_extension_dialog":
		var p closeDialogParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(err)
		}
		return handleResponse(s.app.CloseExtensionDialog(ctx, p.ExtensionID, p.ExtensionAction, p.Args, p.Results))

	case "stats":
		return Response{OK: true, Data: s.app.MatchStats()}

	case "prune":
		removed, err := s.app.Prune()
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Data: map[string]int{"removed": removed}}

	default:
		return errorResponse(fmt.Errorf("%w: unknown command %q", apperrors.ErrInvalidRequest, req.Command))
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed params: %v", apperrors.ErrInvalidRequest, err)
	}
	return nil
}

// handleResponse reports a started process by pid; the server never waits
// for it.
func handleResponse(h *platform.Handle, err error) Response {
	if err != nil {
		return errorResponse(err)
	}
	if h == nil {
		return Response{OK: true}
	}
	return Response{OK: true, Data: processData{Pid: h.Pid()}}
}

func errorResponse(err error) Response {
	return Response{OK: false, Error: err.Error(), Kind: apperrors.Kind(err)}
}

func (s *IPCServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.listener.Close()
	s.mu.Unlock()

	s.conns.Wait()

	if _, err := os.Stat(s.socketPath); err == nil {
		os.Remove(s.socketPath)
	}

	s.logger.Info("IPC server stopped")
	return nil
}

// Call sends one request to a running server and returns its response.
func Call(ctx context.Context, socketPath string, req Request) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}
