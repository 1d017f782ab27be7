// Package keepalive implements a length-prefixed binary protocol over a
// persistent TCP connection, with idle heartbeats and automatic reconnection.
//
// A Conn drives one established socket: it decodes frames, hands messages to
// a Dispatcher off the read path and serializes outbound writes. A Client owns
// the connection lifecycle on the originating side, sending heartbeats when
// the link goes idle and reconnecting at a fixed interval when it drops. A
// Server accepts sockets and runs a Conn with a ReplyDispatcher for each.
package keepalive

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Conn is one established connection to a peer.
// Send is safe for concurrent use; Run must be called exactly once.
type Conn struct {
	rawConn    net.Conn
	decoder    *Decoder
	dispatcher Dispatcher
	sender     Sender
	logger     Logger

	opts options

	writeMu      sync.Mutex
	inbox        chan Message
	lastActivity atomic.Int64
	closed       atomic.Bool
}

// NewConn wraps an established socket. Inbound messages go to the dispatcher
// set by DispatcherOption, or to a ReplyDispatcher when none is set.
func NewConn(conn net.Conn, opt ...Option) *Conn {
	return newConn(conn, newOptions(opt...), nil)
}

// newConn builds a Conn whose dispatcher replies through sender.
// A nil sender means the Conn itself.
func newConn(conn net.Conn, opts options, sender Sender) *Conn {
	c := &Conn{
		rawConn: conn,
		decoder: NewDecoder(opts.codec),
		logger:  opts.logger,
		opts:    opts,
		inbox:   make(chan Message, opts.bufferSize),
	}

	c.dispatcher = opts.dispatcher
	if c.dispatcher == nil {
		c.dispatcher = NewReplyDispatcher(opts.logger, opts.metrics)
	}

	c.sender = sender
	if c.sender == nil {
		c.sender = c
	}

	c.touch()
	return c
}

// Run starts the connection's read and dispatch loops.
// It blocks until the peer goes away, a frame cannot be decoded, the
// connection is closed or ctx is canceled. The connection is closed when
// Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_read_length", c.opts.maxReadLength,
		"read_timeout", c.opts.readTimeout,
		"write_timeout", c.opts.writeTimeout)

	group, child := errgroup.WithContext(ctx)

	// A blocked Read only returns once the socket is closed.
	stop := context.AfterFunc(child, func() { _ = c.Close() })
	defer stop()

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.dispatchLoop(child)
	})

	err := group.Wait()
	_ = c.Close()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrConnectionClosed) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Send encodes m and writes it to the socket.
// It returns once the frame has been handed to the transport, not when the
// peer has received it. A failed write closes the connection and returns an
// error matching ErrSendFailed.
func (c *Conn) Send(m Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := c.opts.codec.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	if _, err = c.rawConn.Write(data); err != nil {
		c.opts.metrics.sendFailures.Inc()
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		_ = c.Close()
		return newOpError(ErrSendFailed, err)
	}

	c.touch()
	c.opts.metrics.frameSent(m.Command)
	return nil
}

// Close closes the underlying socket. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// LastActivity returns when a frame was last written, or when the
// connection was created if nothing has been written yet.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// readLoop reads from the socket and decodes every complete frame in the
// buffer before queueing them, so a slow dispatcher never holds back
// decoding. A malformed frame ends the loop: the stream cannot be realigned.
func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, defaultReadSize)
	for {
		if c.opts.readTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.readTimeout))
		}

		n, err := c.rawConn.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])

			msgs, decodeErr := c.drain()
			for _, m := range msgs {
				select {
				case c.inbox <- m:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if decodeErr != nil {
				c.opts.metrics.malformedFrames.Inc()
				c.logger.Warn("decode error", "addr", c.Addr(), "error", decodeErr)
				return decodeErr
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.closed.Load() {
				return ErrConnectionClosed
			}
			c.logger.Debug("read error", "addr", c.Addr(), "error", err)
			return err
		}
	}
}

// drain decodes every complete frame currently buffered.
func (c *Conn) drain() ([]Message, error) {
	var msgs []Message
	for {
		m, ok, err := c.decoder.Next()
		if err != nil {
			return msgs, err
		}
		if !ok {
			return msgs, nil
		}
		c.opts.metrics.frameReceived(m.Command)
		msgs = append(msgs, m)
	}
}

// dispatchLoop hands queued messages to the dispatcher one at a time.
func (c *Conn) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.inbox:
			err := tracedDispatch(ctx, c.opts.tracer, c.dispatcher, c.sender, m)
			if err == nil {
				continue
			}
			c.logger.Warn("dispatch failed", "addr", c.Addr(),
				"command", m.Command.String(), "correlation_id", m.CorrelationID, "error", err)
			if errors.Is(err, ErrSendFailed) || errors.Is(err, ErrConnectionClosed) {
				return err
			}
		}
	}
}
