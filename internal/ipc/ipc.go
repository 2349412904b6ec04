// Package ipc implements the IPC Server (C10): a Unix-domain socket
// broadcasting newline-delimited JSON frames (spec §4.8) to every
// connected VTA UI client. Frames are broadcast from the moment of
// connection with no history replay.
package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/ternarybob/arbor"
)

// FrameType discriminates the newline-delimited JSON frames exchanged
// over the socket.
type FrameType string

const (
	// Server -> client frames.
	FrameReady         FrameType = "ready"
	FrameUpdate        FrameType = "update"
	FrameClose         FrameType = "close"
	FrameTaskCompleted FrameType = "taskCompleted"

	// Client -> server frames.
	FrameSelected  FrameType = "selected"
	FrameCancelled FrameType = "cancelled"
)

// Frame is one newline-delimited JSON message in either direction.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskCompletedPayload is the payload of a taskCompleted frame.
type TaskCompletedPayload struct {
	StepID string `json:"stepId"`
	TaskID string `json:"taskId"`
	Source string `json:"source"`
}

// UpdatePayload is the payload of an update frame.
type UpdatePayload struct {
	Config json.RawMessage `json:"config"`
}

// Inbound is a client->server frame delivered to a Server's Inbound
// channel, tagged with the connection it arrived on.
type Inbound struct {
	Frame Frame
	Conn  net.Conn
}

// Server accepts connections on a Unix-domain socket and broadcasts
// frames to every currently-connected client (spec §4.8: "each
// receives the same broadcast stream from the moment of connection").
type Server struct {
	path   string
	logger arbor.ILogger

	listener net.Listener
	inbound  chan Inbound

	mu      sync.Mutex
	clients map[net.Conn]*bufio.Writer
	closed  bool
}

// Listen binds a Server to path, removing any stale socket file left
// by a prior session first.
func Listen(path string, logger arbor.ILogger) (*Server, error) {
	_ = os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	return &Server{
		path:     path,
		logger:   logger,
		listener: l,
		inbound:  make(chan Inbound, 64),
		clients:  make(map[net.Conn]*bufio.Writer),
	}, nil
}

// Path returns the bound socket path.
func (s *Server) Path() string { return s.path }

// Inbound returns the channel of client->server frames.
func (s *Server) Inbound() <-chan Inbound { return s.inbound }

// Serve accepts connections until Close is called. Each accepted
// connection is greeted with a ready frame, registered for broadcast,
// and read from until it disconnects.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	w := bufio.NewWriter(conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[conn] = w
	s.mu.Unlock()

	s.writeTo(conn, w, Frame{Type: FrameReady})

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var f Frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			if s.logger != nil {
				s.logger.Warn().Err(err).Msg("ipc: malformed inbound frame, skipping")
			}
			continue
		}
		select {
		case s.inbound <- Inbound{Frame: f, Conn: conn}:
		default:
			if s.logger != nil {
				s.logger.Warn().Msg("ipc: inbound channel saturated, dropping frame")
			}
		}
		if f.Type == FrameCancelled {
			return
		}
	}
}

// Broadcast sends f to every currently-connected client (I4: at most
// one taskCompleted frame per (session, stepId) is the caller's
// responsibility — the Hub's dedup, not this server's).
func (s *Server) Broadcast(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn, w := range s.clients {
		s.writeTo(conn, w, f)
	}
}

func (s *Server) writeTo(conn net.Conn, w *bufio.Writer, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		if s.logger != nil {
			s.logger.Warn().Err(err).Msg("ipc: broadcast write failed")
		}
		return
	}
	if err := w.Flush(); err != nil && s.logger != nil {
		s.logger.Warn().Err(err).Msg("ipc: broadcast flush failed")
	}
}

// Close sends a close frame to every client, disconnects them, stops
// accepting new connections, and unlinks the socket file (spec §4.10:
// "unlink the IPC socket"). Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn, w := range s.clients {
		s.writeTo(conn, w, Frame{Type: FrameClose})
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

// ClientCount returns the number of currently-connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Payload marshals v as a json.RawMessage for embedding in a Frame.
func Payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
