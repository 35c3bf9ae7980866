package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jessmzp/btcpayserver/internal/logger"
)

// Handler 由核心实现，处理连接生命周期和客户端请求
type Handler interface {
	// OnConnect 新连接完成hello握手后调用
	OnConnect(ctx context.Context, connID string, accountID string) error
	// OnEnvelope 处理客户端请求，返回值为回复信封，可以为nil
	OnEnvelope(ctx context.Context, connID string, env *Envelope) *Envelope
	// OnDisconnect 连接关闭后调用
	OnDisconnect(ctx context.Context, connID string)
}

var sem = make(chan struct{}, 10000)

type clientConn struct {
	conn net.Conn
	mu   sync.Mutex // 串行化该连接上的写操作
}

func (cc *clientConn) write(payload []byte) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return WriteFrame(cc.conn, payload)
}

// TCPServer 基于TCP的推送通道实现
type TCPServer struct {
	handler Handler
	ln      net.Listener
	mu      sync.RWMutex
	conns   map[string]*clientConn
	groups  map[string]map[string]struct{}
}

func NewTCPServer(handler Handler) *TCPServer {
	return &TCPServer{
		handler: handler,
		conns:   make(map[string]*clientConn),
		groups:  make(map[string]map[string]struct{}),
	}
}

type TransportCloseCallback struct {
	server *TCPServer
}

func (tc *TransportCloseCallback) Invoke(ctx context.Context) error {
	return tc.server.Close()
}

func (s *TCPServer) CloseCallback() *TransportCloseCallback {
	return &TransportCloseCallback{server: s}
}

func (s *TCPServer) Close() error {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for _, cc := range s.conns {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	for _, cc := range conns {
		_ = cc.conn.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *TCPServer) StartServer(port int) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		logger.FatalF("Hub transport start error: %v", err)
		return
	}
	s.ln = ln
	logger.InfoF("Hub transport listen on " + ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isNetClosedError(err) {
				return
			}
			logger.ErrorF("Accept connection error: %v", err)
			continue
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		sem <- struct{}{}
		go func(c net.Conn) {
			s.handleConnection(c)
			<-sem
		}(conn)
	}
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func handleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading frame, details: %v", connID, err)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	connID := uuid.NewString()
	ctx := context.Background()

	defer func() {
		logger.DebugF("[%s] Connection closed", connID)
		if err := conn.Close(); err != nil && !isNetClosedError(err) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", connID, err)
		}
	}()

	// 第一帧必须是hello，携带账户标识
	_ = conn.SetReadDeadline(time.Now().Add(time.Minute))
	payload, err := ReadFrame(conn)
	if err != nil {
		logger.WarnF("[%s] Fail to read first frame, details: %v", connID, err)
		return
	}

	env, err := DecodeEnvelope(payload)
	if err != nil {
		logger.WarnF("[%s] Fail to decode first frame, details: %v", connID, err)
		return
	}
	if env.Type != "hello" {
		logger.ErrorF("[%s] Invalid first frame type, expected hello frame, but got %s frame", connID, env.Type)
		return
	}
	accountID := env.String("account")
	if accountID == "" {
		logger.ErrorF("[%s] hello frame missing account", connID)
		return
	}

	cc := &clientConn{conn: conn}
	s.mu.Lock()
	s.conns[connID] = cc
	s.mu.Unlock()

	defer func() {
		s.removeConnection(connID)
		s.handler.OnDisconnect(ctx, connID)
	}()

	if err := s.handler.OnConnect(ctx, connID, accountID); err != nil {
		logger.ErrorF("[%s] Fail to register connection, details: %v", connID, err)
		return
	}

	ack := NewEnvelope("hello_ack", map[string]interface{}{"connection": connID})
	if err := s.reply(cc, connID, ack); err != nil {
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

		payload, err := ReadFrame(conn)
		if err != nil {
			handleReadError(connID, err)
			return
		}

		env, err := DecodeEnvelope(payload)
		if err != nil {
			logger.ErrorF("[%s] Fail to decode frame, details: %v", connID, err)
			return
		}

		logger.DebugF("[%s] Receive %s frame", connID, env.Type)

		switch env.Type {
		case "hello":
			logger.ErrorF("[%s] Duplicate hello frame", connID)
			return
		case "ping":
			if err := s.reply(cc, connID, NewEnvelope("pong", nil)); err != nil {
				return
			}
		case "bye":
			logger.InfoF("[%s] Client disconnect", connID)
			return
		default:
			if resp := s.handler.OnEnvelope(ctx, connID, env); resp != nil {
				if err := s.reply(cc, connID, resp); err != nil {
					return
				}
			}
		}
	}
}

func (s *TCPServer) reply(cc *clientConn, connID string, env *Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		logger.ErrorF("[%s] Fail to encode %s frame, details: %v", connID, env.Type, err)
		return err
	}
	if err := cc.write(payload); err != nil {
		logger.ErrorF("[%s] Fail to send data, details: %v", connID, err)
		return err
	}
	return nil
}

func (s *TCPServer) removeConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
	for group, members := range s.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(s.groups, group)
		}
	}
}

func (s *TCPServer) JoinGroup(_ context.Context, group string, connIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.groups[group]
	if !ok {
		members = make(map[string]struct{})
		s.groups[group] = members
	}
	for _, connID := range connIDs {
		members[connID] = struct{}{}
	}
	return nil
}

func (s *TCPServer) LeaveGroup(_ context.Context, group string, connIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.groups[group]
	if !ok {
		return nil
	}
	for _, connID := range connIDs {
		delete(members, connID)
	}
	if len(members) == 0 {
		delete(s.groups, group)
	}
	return nil
}

func (s *TCPServer) SendToGroup(_ context.Context, group string, payload []byte) error {
	s.mu.RLock()
	targets := make([]*clientConn, 0, len(s.groups[group]))
	ids := make([]string, 0, len(s.groups[group]))
	for connID := range s.groups[group] {
		if cc, ok := s.conns[connID]; ok {
			targets = append(targets, cc)
			ids = append(ids, connID)
		}
	}
	s.mu.RUnlock()

	for i, cc := range targets {
		if err := cc.write(payload); err != nil {
			logger.ErrorF("[%s] Fail to send data, details: %v", ids[i], err)
		}
	}
	return nil
}

func (s *TCPServer) SendToConnection(_ context.Context, connID string, payload []byte) error {
	s.mu.RLock()
	cc, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := cc.write(payload); err != nil {
		logger.ErrorF("[%s] Fail to send data, details: %v", connID, err)
		return err
	}
	return nil
}

func (s *TCPServer) Broadcast(_ context.Context, payload []byte) error {
	s.mu.RLock()
	targets := make([]*clientConn, 0, len(s.conns))
	ids := make([]string, 0, len(s.conns))
	for connID, cc := range s.conns {
		targets = append(targets, cc)
		ids = append(ids, connID)
	}
	s.mu.RUnlock()

	for i, cc := range targets {
		if err := cc.write(payload); err != nil {
			logger.ErrorF("[%s] Fail to send data, details: %v", ids[i], err)
		}
	}
	return nil
}
