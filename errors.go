package phxsocket

import (
	"errors"
	"fmt"
)

var (
	// ErrNotJoined is returned by Leave when the topic has no active
	// subscription. State is unchanged.
	ErrNotJoined = errors.New("topic not joined")

	// ErrSocketClosed is returned by API calls after the socket has
	// terminated, either by Stop or by a fatal protocol fault.
	ErrSocketClosed = errors.New("socket closed")

	// ErrAlreadyStarted is returned by Start when the socket is already
	// running.
	ErrAlreadyStarted = errors.New("socket already started")

	// ErrNotStarted is returned by API calls made before Start.
	ErrNotStarted = errors.New("socket not started")
)

// AlreadyJoinedError is returned by Join when the topic already has an
// active subscription. It carries the existing subscriber; state is
// unchanged.
type AlreadyJoinedError struct {
	Topic string
	Owner Subscriber
}

func (e *AlreadyJoinedError) Error() string {
	return fmt.Sprintf("topic %q already joined", e.Topic)
}
