package phxsocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// TransportHandle identifies one transport session. Notifications carry the
// handle they belong to so the Socket can ignore events from sessions it has
// already abandoned.
type TransportHandle interface {
	ID() uuid.UUID
	Close() error
}

// TransportEvents receives asynchronous notifications from a transport
// session. Implementations must be safe to call from any goroutine.
//
// Disconnected reports a failed connection attempt or an abnormal loss;
// Closed reports a clean closure.
type TransportEvents interface {
	Connected(handle TransportHandle)
	Disconnected(reason error, handle TransportHandle)
	Closed(reason string, handle TransportHandle)
	Received(frame []byte)
}

// TransportOptions tunes a transport implementation. Unknown fields are
// ignored by transports that have no use for them.
type TransportOptions struct {
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Transport opens connections and writes raw frames. The Socket never waits
// on a transport: connection outcomes and inbound frames arrive through
// TransportEvents.
type Transport interface {
	// Open starts a connection attempt to url. It must not block on network
	// I/O: the outcome is delivered asynchronously as a Connected or
	// Disconnected notification carrying the returned handle. An error is
	// returned only for immediately detectable problems.
	Open(url string, opts TransportOptions, events TransportEvents) (TransportHandle, error)

	// Send writes one frame on the given session. Fire and forget: a
	// transmission failure surfaces as a Disconnected notification, never as
	// a return value.
	Send(handle TransportHandle, frame []byte)
}
