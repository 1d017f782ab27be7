package keepalive

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ErrEmptyAddress is returned by NewClient when no server address is given.
var ErrEmptyAddress = pkgerrors.New("empty server address")

// Client owns one logical link to a server.
//
// Its state moves Disconnected -> Connecting -> Connected and back to
// Disconnected on any I/O error, peer close, malformed frame or Close. Every
// drop that is not caused by Close arms a single reconnect attempt after a
// fixed delay; failed attempts re-arm it, forever. While the link is
// Connected and idle, the heartbeat monitor sends heartbeat requests.
//
// All transitions happen under one client-scoped lock. Each established
// socket is its own generation: a failure reported for a socket that has
// already been replaced or torn down is ignored.
type Client struct {
	addr    string
	opts    options
	logger  Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	reconnector *reconnector
	monitor     *HeartbeatMonitor
	monitorOnce sync.Once

	mu     sync.Mutex
	state  State
	conn   *Conn
	closed bool

	lastActivity atomic.Int64
}

// NewClient returns a Disconnected client for the server at addr.
// Inbound messages go to the OnMessageOption observer unless
// DispatcherOption says otherwise.
func NewClient(addr string, opt ...Option) (*Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}

	opts := newOptions(opt...)
	if opts.dispatcher == nil {
		opts.dispatcher = NewObserverDispatcher(opts.onMessage, opts.logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		addr:    addr,
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.reconnector = newReconnector(opts.reconnectDelay, c.reconnect)
	c.monitor = newHeartbeatMonitor(c, opts)
	c.lastActivity.Store(time.Now().UnixNano())
	c.metrics.setState(Disconnected)
	return c, nil
}

// Start launches the heartbeat monitor and makes the first connection
// attempt. If that attempt fails, a reconnect is armed before the error is
// returned, so the client keeps trying in the background.
func (c *Client) Start(ctx context.Context) error {
	c.monitorOnce.Do(func() {
		go func() {
			_ = c.monitor.Run(c.ctx)
		}()
	})

	err := c.Connect(ctx)
	if err != nil && errors.Is(err, ErrConnectFailed) {
		c.logger.Warn("initial connect failed", "addr", c.addr, "error", err)
		c.scheduleReconnect()
	}
	return err
}

// Connect establishes the socket. It is only valid while Disconnected.
// On failure the client is Disconnected again and the error matches
// ErrConnectFailed; retrying is up to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClientClosed
	case c.state == Connecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	case c.state == Connected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	from := c.setStateLocked(Connecting)
	c.mu.Unlock()
	c.notify(from, Connecting)

	c.metrics.connectAttempts.Inc()
	c.logger.Debug("connecting", "addr", c.addr)

	// Close must be able to abort a dial started from any context.
	dialCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	raw, err := c.opts.dial(dialCtx, "tcp", c.addr)
	stop()
	cancel()

	if err != nil {
		c.metrics.connectFailures.Inc()

		c.mu.Lock()
		from = c.setStateLocked(Disconnected)
		closed := c.closed
		c.mu.Unlock()
		c.notify(from, Disconnected)

		if closed {
			return ErrClientClosed
		}
		kind := ErrConnectFailed
		if isTimeout(err) {
			kind = ErrHandshakeTimeout
		}
		return newOpError(kind, pkgerrors.Wrapf(err, "dial %s", c.addr))
	}

	conn := newConn(raw, c.opts, c)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = raw.Close()
		return ErrClientClosed
	}
	c.conn = conn
	from = c.setStateLocked(Connected)
	c.mu.Unlock()
	c.notify(from, Connected)

	c.logger.Info("connected", "addr", c.addr)
	go c.run(conn)
	return nil
}

// Send writes m to the server. It fails with ErrNotConnected unless the
// client is Connected; nothing is queued. A failed write moves the client to
// Disconnected, arms a reconnect and returns an error matching ErrSendFailed.
func (c *Client) Send(m Message) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	err := conn.Send(m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSendFailed):
		c.disconnected(conn, err)
		return err
	case errors.Is(err, ErrConnectionClosed):
		// the read side noticed first and is tearing this socket down
		c.disconnected(conn, err)
		return newOpError(ErrNotConnected, err)
	default:
		return err
	}
}

// SendBusinessMessage sends content as a normal request with a fresh
// correlation id and returns that id.
func (c *Client) SendBusinessMessage(content string) (string, error) {
	m := NewMessage(NormalRequest, content)
	if err := c.Send(m); err != nil {
		return "", err
	}
	return m.CorrelationID, nil
}

// Close tears the link down for good: it cancels the pending reconnect, any
// in-flight dial and the heartbeat monitor, and leaves the client
// Disconnected. It is idempotent and safe from any goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	from := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	c.cancel()
	c.reconnector.stop()
	if conn != nil {
		c.lastActivity.Store(conn.LastActivity().UnixNano())
		_ = conn.Close()
	}
	c.notify(from, Disconnected)

	c.logger.Info("client closed", "addr", c.addr)
	return nil
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns when a frame was last transmitted. Connecting resets it.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.LastActivity()
	}
	return time.Unix(0, c.lastActivity.Load())
}

// Addr returns the server address the client dials.
func (c *Client) Addr() string {
	return c.addr
}

// run drives one socket generation and reports its end.
func (c *Client) run(conn *Conn) {
	err := conn.Run(c.ctx)
	c.disconnected(conn, err)
}

// disconnected moves the client to Disconnected if conn is still the
// current socket, then arms a reconnect unless the client was closed.
func (c *Client) disconnected(conn *Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	from := c.setStateLocked(Disconnected)
	closed := c.closed
	c.mu.Unlock()

	c.lastActivity.Store(conn.LastActivity().UnixNano())
	_ = conn.Close()
	c.notify(from, Disconnected)

	if closed {
		return
	}
	c.logger.Warn("connection lost", "addr", c.addr, "error", cause)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if !c.reconnector.schedule() {
		return
	}
	c.metrics.reconnectsScheduled.Inc()
	c.logger.Info("reconnect scheduled", "addr", c.addr, "delay", c.opts.reconnectDelay)
}

// reconnect is the deferred attempt armed by scheduleReconnect.
func (c *Client) reconnect() {
	err := c.Connect(c.ctx)
	switch {
	case err == nil:
		c.logger.Info("reconnected", "addr", c.addr)
	case errors.Is(err, ErrClientClosed),
		errors.Is(err, ErrAlreadyConnected),
		errors.Is(err, ErrConnectInProgress):
	default:
		c.logger.Warn("reconnect failed", "addr", c.addr, "error", err)
		c.scheduleReconnect()
	}
}

func (c *Client) setStateLocked(to State) State {
	from := c.state
	c.state = to
	c.metrics.setState(to)
	return from
}

func (c *Client) notify(from, to State) {
	if from == to || c.opts.onStateChange == nil {
		return
	}
	c.opts.onStateChange(from, to)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
