package ipc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/austinkregel/local-media/sonifyd/internal/config"
	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/pipeline"
	"github.com/austinkregel/local-media/sonifyd/internal/powermatrix"
)

// pushQueue bounds the messages buffered per client; pushes beyond it are dropped
const pushQueue = 16

// Controller is the part of the pipeline the control socket drives
type Controller interface {
	Status() pipeline.Status
	Snapshot() *powermatrix.Matrix
	Bands() []string
	Recalibrate()
	Config() config.Config
	SetVolume(v float64) error
	SetOnPublish(fn func(*powermatrix.Matrix))
}

// client is one connection. A single writer goroutine drains out, so
// responses and pushes never interleave on the wire.
type client struct {
	conn       net.Conn
	out        chan []byte
	done       chan struct{}
	subscribed atomic.Bool
	dropped    atomic.Uint64
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	ctrl       Controller
	log        logging.Logger
	listener   net.Listener

	mu      sync.Mutex
	clients map[net.Conn]*client
}

// NewServer creates a new IPC server and hooks it to the controller's publish
// stream for power matrix subscribers
func NewServer(socketPath string, ctrl Controller, log logging.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		log:        logging.Component(log, "ipc"),
		clients:    make(map[net.Conn]*client),
	}

	// Matrices are pushed as they are published (no polling)
	ctrl.SetOnPublish(s.pushPowerMatrix)
	return s
}

// Start serves the socket until ctx is cancelled. An empty socket path
// disables the server.
func (s *Server) Start(ctx context.Context) error {
	if s.socketPath == "" {
		return nil
	}

	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	s.log.Info("Creating socket", logging.Fields{"path": s.socketPath})

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	go s.acceptLoop(ctx)

	<-ctx.Done()

	s.log.Info("Shutting down server")

	s.mu.Lock()
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	listener.Close()
	os.RemoveAll(s.socketPath)

	s.log.Info("Server stopped", logging.Fields{"closedClients": clientCount})
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn("Accept error", logging.Fields{"error": err.Error()})
				continue
			}
		}

		c := &client{
			conn: conn,
			out:  make(chan []byte, pushQueue),
			done: make(chan struct{}),
		}

		s.mu.Lock()
		s.clients[conn] = c
		clientCount := len(s.clients)
		s.mu.Unlock()

		s.log.Debug("Client connected", logging.Fields{"clients": clientCount})

		go s.writeLoop(c)
		go s.handleConnection(ctx, c)
	}
}

func (s *Server) writeLoop(c *client) {
	broken := false
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if broken {
				continue
			}
			if _, err := c.conn.Write(msg); err != nil {
				// Keep draining so send never blocks; the reader sees the
				// closed conn and ends the client
				broken = true
				c.conn.Close()
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		close(c.done)
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.conn)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.log.Debug("Client disconnected", logging.Fields{
			"clients":       clientCount,
			"droppedPushes": c.dropped.Load(),
		})
	}()

	reader := bufio.NewReader(c.conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read line (newline-delimited JSON)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("Read error", logging.Fields{"error": err.Error()})
			}
			return
		}

		var resp *Response
		req, err := DecodeRequest(line)
		if err != nil {
			s.log.Debug("Invalid request format", logging.Fields{"error": err.Error()})
			resp = NewErrorResponse("invalid request format")
		} else {
			resp = s.handleRequest(c, req)
		}

		if !s.send(c, resp) {
			return
		}
	}
}

// send queues a response, waiting for room if the client is behind on pushes
func (s *Server) send(c *client, resp *Response) bool {
	data, err := EncodeResponse(resp)
	if err != nil {
		data, _ = EncodeResponse(NewErrorResponse("internal error"))
	}
	data = append(data, '\n')

	select {
	case c.out <- data:
		return true
	case <-c.done:
		return false
	}
}

// pushPowerMatrix runs on the processing goroutine; it never blocks on a slow
// subscriber and drops the message for that subscriber instead.
func (s *Server) pushPowerMatrix(m *powermatrix.Matrix) {
	s.mu.Lock()
	subs := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.subscribed.Load() {
			subs = append(subs, c)
		}
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	msg, err := NewPushMessage(PushPowerMatrix, NewPowerMatrixResponse(m, s.ctrl.Bands()))
	if err != nil {
		return
	}
	msg = append(msg, '\n')

	for _, c := range subs {
		select {
		case c.out <- msg:
		default:
			c.dropped.Add(1)
		}
	}
}
