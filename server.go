package keepalive

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Handler is the interface for handling incoming TCP connections.
type Handler interface {
	// Handle is called on its own goroutine for each new connection and owns
	// it until it returns. ctx is canceled when the server shuts down.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// NewConnHandler returns a Handler that runs a Conn for every accepted
// socket. Unless DispatcherOption overrides it, each Conn answers heartbeats
// with "pong" and business requests with "ok".
func NewConnHandler(opt ...Option) Handler {
	opts := newOptions(opt...)
	if opts.dispatcher == nil {
		opts.dispatcher = NewReplyDispatcher(opts.logger, opts.metrics)
	}

	return HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		c := newConn(conn, opts, nil)
		if err := c.Run(ctx); err != nil {
			opts.logger.Debug("connection ended", "addr", c.Addr(), "error", err)
		}
	})
}

// Server represents a TCP server that listens for incoming connections.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout

	handlers sync.WaitGroup
	active   atomic.Int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long Serve lets open connections
// drain after its context is canceled. New connections are refused right
// away; once the timeout expires, remaining handlers see their context
// canceled. Default is 0 (cancel immediately).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      defaultLogger(),
		shutdownNow: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and hands each one to handler on its own
// goroutine. It blocks until ctx is canceled or Close is called, then waits
// for the handlers to return (see ServerShutdownTimeoutOption).
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	// Unblock Accept once the caller is done with us.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = s.listener.SetDeadline(time.Now())
	})
	defer stop()

	err := s.acceptLoop(ctx, connCtx, handler)

	s.drain(cancelConns)
	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return err
}

func (s *Server) acceptLoop(ctx, connCtx context.Context, handler Handler) error {
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		s.handlers.Add(1)
		s.active.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.active.Add(-1)
			handler.Handle(connCtx, conn)
		}()
	}
}

// drain waits for handlers, canceling them when the shutdown timeout
// expires or Close is called.
func (s *Server) drain(cancelConns context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	if s.shutdownTimeout > 0 && s.active.Load() > 0 {
		s.logger.Info("graceful shutdown initiated",
			"timeout", s.shutdownTimeout, "connections", s.active.Load())
		select {
		case <-done:
			return
		case <-time.After(s.shutdownTimeout):
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	cancelConns()
	<-done
}

// Close stops the server by closing the underlying listener and cuts any
// pending drain short. Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// ActiveConnections returns the number of connections being handled.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
