package keepalive

import (
	"github.com/pkg/errors"
)

// Error kinds reported by codecs, connections and clients.
// Use errors.Is to test for a kind; operation errors also wrap their cause.
var (
	// ErrMalformedMessage is returned when a frame payload cannot be decoded.
	// The stream is out of alignment after it, so the connection is always closed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrSendFailed is returned when writing a frame to an established connection fails.
	ErrSendFailed = errors.New("send failed")
	// ErrConnectFailed is returned when the socket cannot be established.
	ErrConnectFailed = errors.New("connect failed")
	// ErrHandshakeTimeout is returned when establishing the socket times out.
	// It matches ErrConnectFailed as well.
	ErrHandshakeTimeout = errors.Wrap(ErrConnectFailed, "handshake timeout")
	// ErrNotConnected is returned by Send while the client is not Connected.
	// Messages are never queued; retry at a higher layer.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect on a Connected client.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrConnectInProgress is returned by Connect while another attempt is in flight.
	ErrConnectInProgress = errors.New("connect in progress")
	// ErrClientClosed is returned by operations on a client after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// opError pairs an error kind with the underlying cause.
type opError struct {
	kind  error
	cause error
}

func newOpError(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &opError{kind: kind, cause: cause}
}

func (e *opError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *opError) Unwrap() []error {
	return []error{e.kind, e.cause}
}
