// Package server serves JSON-RPC 2.0 over WebSocket.
//
// Request processing pipeline:
//
//	Upgrade → handleConn (one goroutine reads frames)
//	  → for each frame: go handleFrame (parallel processing)
//	    → decode single or batch → dispatch (reflect.Call) → encode → write reply
//
// The server can also push "{namespace}_subscription" notifications to every
// connected client, which makes it a complete peer for the client transport.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mini-wsrpc/codec"
	"mini-wsrpc/message"
)

// Server dispatches JSON-RPC calls to registered services.
type Server struct {
	serviceMap map[string]*service
	upgrader   websocket.Upgrader
	codec      codec.Codec
	logger     *zap.Logger

	mu    sync.Mutex
	conns map[*serverConn]struct{}

	httpServer *http.Server
	wg         sync.WaitGroup // In-flight requests, for graceful shutdown
	shutdown   atomic.Bool
}

// serverConn serializes writes to one client; gorilla allows a single writer.
type serverConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		serviceMap: make(map[string]*service),
		codec:      codec.GetCodec(codec.CodecTypeJSON),
		logger:     logger,
		conns:      make(map[*serverConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register exposes the methods of rcvr (e.g. &Eth{}) under its namespace.
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	s.serviceMap[svc.name] = svc
	return nil
}

// Serve listens on address and serves WebSocket upgrades on every path until
// Shutdown is called.
func (s *Server) Serve(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

func (s *Server) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("rpc server listening", zap.String("addr", listener.Addr().String()))
	err := srv.Serve(listener)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.handleConn(&serverConn{ws: ws})
}

// handleConn reads frames sequentially and answers each in its own goroutine,
// so a slow method never blocks the calls behind it.
func (s *Server) handleConn(conn *serverConn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.ws.Close()
	}()

	remote := conn.ws.RemoteAddr().String()
	s.logger.Debug("client connected", zap.String("remote_addr", remote))
	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("client connection closed unexpectedly", zap.String("remote_addr", remote), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		s.wg.Add(1)
		go s.handleFrame(conn, data)
	}
}

func (s *Server) handleFrame(conn *serverConn, data []byte) {
	defer s.wg.Done()

	reply := s.process(context.Background(), data)
	if reply == nil {
		return
	}
	if err := conn.write(reply); err != nil {
		s.logger.Warn("write reply failed", zap.Error(err))
	}
}

// process answers one frame: a single request or a batch. It returns nil when
// nothing needs to be sent back (notifications only).
func (s *Server) process(ctx context.Context, data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := s.codec.Decode(trimmed, &batch); err != nil || len(batch) == 0 {
			return s.encode(errorResponse(nil, message.CodeInvalidRequest, "invalid batch"))
		}
		responses := make([]*message.Response, 0, len(batch))
		for _, raw := range batch {
			if resp := s.handleRequest(ctx, raw); resp != nil {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			return nil
		}
		return s.encode(responses)
	}

	resp := s.handleRequest(ctx, trimmed)
	if resp == nil {
		return nil
	}
	return s.encode(resp)
}

func (s *Server) encode(v any) []byte {
	out, err := s.codec.Encode(v)
	if err != nil {
		s.logger.Error("encode reply failed", zap.Error(err))
		return nil
	}
	return out
}

func (s *Server) handleRequest(ctx context.Context, raw []byte) *message.Response {
	var req message.Request
	if err := s.codec.Decode(raw, &req); err != nil {
		return errorResponse(nil, message.CodeParseError, err.Error())
	}
	if req.Method == "" {
		return errorResponse(req.ID, message.CodeInvalidRequest, "missing method")
	}

	resp := s.businessHandler(ctx, &req)
	if len(req.ID) == 0 {
		return nil
	}
	return resp
}

// businessHandler looks up "{namespace}_{method}", decodes params into the
// argument type, invokes the method via reflection and encodes the reply.
func (s *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	namespace, methodName, ok := strings.Cut(req.Method, "_")
	if !ok {
		return errorResponse(req.ID, message.CodeMethodNotFound, fmt.Sprintf("method %s not found", req.Method))
	}
	svc := s.serviceMap[namespace]
	if svc == nil {
		return errorResponse(req.ID, message.CodeMethodNotFound, fmt.Sprintf("method %s not found", req.Method))
	}
	method := svc.method[methodName]
	if method == nil {
		return errorResponse(req.ID, message.CodeMethodNotFound, fmt.Sprintf("method %s not found", req.Method))
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)
	if err := s.decodeParams(req.Params, argv); err != nil {
		return errorResponse(req.ID, message.CodeInvalidParams, err.Error())
	}

	if err := svc.call(method, argv, replyv); err != nil {
		var rpcErr *message.RPCError
		if errors.As(err, &rpcErr) {
			return &message.Response{JSONRPC: message.Version, ID: req.ID, Error: rpcErr}
		}
		return errorResponse(req.ID, message.CodeInternalError, err.Error())
	}

	result, err := s.codec.Encode(replyv.Interface())
	if err != nil {
		return errorResponse(req.ID, message.CodeInternalError, err.Error())
	}
	return &message.Response{JSONRPC: message.Version, ID: req.ID, Result: result}
}

// decodeParams accepts params by name (an object) or by position. Positional
// params are decoded whole into a slice argument, otherwise the first element
// is the argument.
func (s *Server) decodeParams(params json.RawMessage, argv reflect.Value) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' && argv.Elem().Kind() != reflect.Slice {
		var positional []json.RawMessage
		if err := s.codec.Decode(trimmed, &positional); err != nil {
			return err
		}
		if len(positional) == 0 {
			return nil
		}
		trimmed = positional[0]
	}
	return s.codec.Decode(trimmed, argv.Interface())
}

func errorResponse(id json.RawMessage, code int, msg string) *message.Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &message.Response{
		JSONRPC: message.Version,
		ID:      id,
		Error:   &message.RPCError{Code: code, Message: msg},
	}
}

// Notify pushes a subscription notification for namespace to every client.
func (s *Server) Notify(namespace, subscription string, result any) error {
	data, err := s.codec.Encode(result)
	if err != nil {
		return err
	}
	payload, err := s.codec.Encode(&message.Notification{
		JSONRPC: message.Version,
		Method:  namespace + message.NotificationMarker,
		Params:  message.SubscriptionParams{Subscription: subscription, Result: data},
	})
	if err != nil {
		return err
	}
	return s.Broadcast(payload)
}

// Broadcast writes data as one text frame to every client.
func (s *Server) Broadcast(data []byte) error {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.write(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting connections, closes the open ones and waits up to
// timeout for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	srv := s.httpServer
	for c := range s.conns {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
