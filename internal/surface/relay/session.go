package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout          = 60 * time.Second
	writeTimeout         = 10 * time.Second
	maxInboundMessageLen = 1 << 20
	heartbeatInterval    = 30 * time.Second
)

var errSessionClosed = errors.New("relay: shell session closed")

type pendingRequest struct {
	ch        chan Message
	closeOnce sync.Once
}

func (pr *pendingRequest) close() {
	pr.closeOnce.Do(func() { close(pr.ch) })
}

// session is one connected GUI shell.
type session struct {
	conn       *websocket.Conn
	manager    *Manager
	id         string
	closed     chan struct{}
	closeOnce  sync.Once
	writeMutex sync.Mutex
	pending    sync.Map // map[string]*pendingRequest
}

func newSession(conn *websocket.Conn, mgr *Manager, id string) *session {
	s := &session{
		conn:    conn,
		manager: mgr,
		id:      id,
		closed:  make(chan struct{}),
	}
	conn.SetReadLimit(maxInboundMessageLen)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go s.heartbeat()
	return s
}

func (s *session) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMutex.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			s.writeMutex.Unlock()
			if err != nil {
				s.cleanup(err)
				return
			}
		}
	}
}

func (s *session) run() {
	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.cleanup(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg Message) {
	switch msg.Type {
	case MessageTypePing:
		_ = s.send(Message{ID: msg.ID, Type: MessageTypePong})
		return
	case MessageTypeNavigated, MessageTypeClosed:
		s.manager.handleEvent(s, msg)
		return
	}
	if actual, loaded := s.pending.LoadAndDelete(msg.ID); loaded {
		req := actual.(*pendingRequest)
		select {
		case req.ch <- msg:
		default:
		}
		req.close()
		return
	}
	s.manager.logDebugf("relay: dropping %s message for unknown id %q", msg.Type, msg.ID)
}

func (s *session) send(msg Message) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// call sends msg and waits for the shell's ack or error reply.
func (s *session) call(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return errors.New("relay: message id is required")
	}
	req := &pendingRequest{ch: make(chan Message, 1)}
	if _, loaded := s.pending.LoadOrStore(msg.ID, req); loaded {
		return fmt.Errorf("relay: duplicate message id %s", msg.ID)
	}
	if err := s.send(msg); err != nil {
		if _, loaded := s.pending.LoadAndDelete(msg.ID); loaded {
			req.close()
		}
		return err
	}

	select {
	case <-ctx.Done():
		if _, loaded := s.pending.LoadAndDelete(msg.ID); loaded {
			req.close()
		}
		return ctx.Err()
	case reply, ok := <-req.ch:
		if !ok {
			return errSessionClosed
		}
		if reply.Type == MessageTypeError {
			if reason := payloadString(reply.Payload, "error"); reason != "" {
				return fmt.Errorf("relay: shell rejected %s: %s", msg.Type, reason)
			}
			return fmt.Errorf("relay: shell rejected %s", msg.Type)
		}
		return nil
	}
}

func (s *session) done() <-chan struct{} { return s.closed }

func (s *session) cleanup(cause error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.pending.Range(func(key, value any) bool {
			s.pending.Delete(key)
			value.(*pendingRequest).close()
			return true
		})
		_ = s.conn.Close()
		if s.manager != nil {
			s.manager.handleSessionClosed(s, cause)
		}
	})
}
